/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package aries is an agent-side SDK for pairwise DIDComm messaging with legacy (RFC 0019) envelopes.
//
// # Packages for end developer usage
//
// pkg/agent: Composes key storage, the connection protocol, the listener and the reply correlation into an
// Agent. Invite/Serve and Connect establish connections; Call, Ping and Post talk to connected peers.
//
// pkg/didcomm/tunnel: Encrypts, frames and posts messages over a transport pair. Usable on its own.
//
// pkg/didcomm/future: Correlates replies to outstanding requests by thread id.
//
// cmd/aries-agent: Runs an agent behind the DIDComm HTTP transport.
//
// # Basic workflow
//
//  1. Create an agent with agent.New, passing a Config.
//  2. Feed inbound envelopes to agent.Inbound(), or run cmd/aries-agent.
//  3. Create an invitation with Invite and Serve it, or Connect to a peer's invitation.
//  4. Call, Ping or Post to the peer by its verkey. Consume agent.Events() for everything else.
//  5. Call agent.Close() to release resources.
package aries
