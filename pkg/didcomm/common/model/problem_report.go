/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"github.com/google/uuid"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
)

// ProblemReportMsgType is the notification problem report message type.
var ProblemReportMsgType = message.TypeURI(NotificationProtocol, NotificationVersion, "problem_report") //nolint:gochecknoglobals,lll

// ProblemReport problem report definition.
type ProblemReport struct {
	Type        string            `json:"@type,omitempty"`
	ID          string            `json:"@id,omitempty"`
	ProblemCode string            `json:"problem-code,omitempty"`
	Explain     string            `json:"explain,omitempty"`
	Description *Code             `json:"description,omitempty"`
	Thread      *decorator.Thread `json:"~thread,omitempty"`
}

// Code represents a problem report code.
type Code struct {
	Code string `json:"code"`
	En   string `json:"en,omitempty"`
}

// NewProblemReport builds a problem report of msgType for the thread thid.
func NewProblemReport(msgType, thid, code, explain string) *ProblemReport {
	pr := &ProblemReport{
		Type:        msgType,
		ID:          uuid.New().String(),
		ProblemCode: code,
		Explain:     explain,
		Description: &Code{Code: code, En: explain},
	}

	if thid != "" {
		pr.Thread = &decorator.Thread{ID: thid}
	}

	return pr
}

// Code returns the problem code, accepting the older description form.
func (p *ProblemReport) Code() string {
	if p.ProblemCode != "" {
		return p.ProblemCode
	}

	if p.Description != nil {
		return p.Description.Code
	}

	return ""
}
