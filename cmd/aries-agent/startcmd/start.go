/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/agent"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config/lookup"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/connection"
	arieshttp "github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport/http"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport/ws"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

const (
	// config file flag.
	configFileFlagName      = "config-file"
	configFileEnvKey        = "ARIES_AGENT_CONFIG_FILE"
	configFileFlagShorthand = "f"
	configFileFlagUsage     = "TOML config file. Without it settings come from ARIES_AGENT_* environment variables." +
		" Alternatively, this can be set with the following environment variable: " + configFileEnvKey

	// label flag.
	agentLabelFlagName      = "label"
	agentLabelFlagShorthand = "l"
	agentLabelFlagUsage     = "Label advertised in invitations. Overrides " + config.KeyAgentLabel + "."

	// endpoint flag.
	agentEndpointFlagName      = "endpoint"
	agentEndpointFlagShorthand = "e"
	agentEndpointFlagUsage     = "Endpoint peers deliver envelopes to, as seen externally." +
		" Overrides " + config.KeyAgentEndpoint + "."

	// inbound host flag.
	agentInboundHostFlagName      = "inbound-host"
	agentInboundHostFlagShorthand = "i"
	agentInboundHostFlagUsage     = "Inbound Host Name:Port. Overrides " + config.KeyTransportInbound + "."

	// events url flag.
	agentEventsURLFlagName      = "events-url"
	agentEventsURLFlagShorthand = "w"
	agentEventsURLFlagUsage     = "Websocket URL of an external event stream (optional)." +
		" Overrides " + config.KeyTransportEvents + "."

	// metrics host flag.
	agentMetricsHostFlagName      = "metrics-host"
	agentMetricsHostFlagShorthand = "m"
	agentMetricsHostFlagUsage     = "Serve metrics on a separate Host Name:Port instead of the inbound host." +
		" Overrides " + config.KeyMetricsAddr + "."

	// log level.
	agentLogLevelFlagName  = "log-level"
	agentLogLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL]. Overrides " + config.KeyLogLevel + "."

	// api token flag.
	agentTokenFlagName      = "api-token"
	agentTokenEnvKey        = "ARIES_AGENT_API_TOKEN" // nolint:gosec
	agentTokenFlagShorthand = "t"
	agentTokenFlagUsage     = "Check for bearer token in the authorization header of the invitation API (optional)." +
		" Alternatively, this can be set with the following environment variable: " + agentTokenEnvKey

	agentTLSCertFileFlagName      = "tls-cert-file"
	agentTLSCertFileEnvKey        = "TLS_CERT_FILE"
	agentTLSCertFileFlagShorthand = "c"
	agentTLSCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSCertFileEnvKey

	agentTLSKeyFileFlagName      = "tls-key-file"
	agentTLSKeyFileEnvKey        = "TLS_KEY_FILE"
	agentTLSKeyFileFlagShorthand = "k"
	agentTLSKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSKeyFileEnvKey

	inboundPath     = "/"
	metricsPath     = "/metrics"
	invitationPath  = "/invitation"
	connectionsPath = "/connections"
)

var (
	errMissingHost = errors.New("inbound host not provided")
	logger         = log.New("aries-agent/start")
)

type agentParameters struct {
	server                  server
	cfg                     agent.Config
	token                   string
	tlsCertFile, tlsKeyFile string
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, router) //nolint:gosec
	}

	return http.ListenAndServe(host, router) //nolint:gosec
}

// Cmd returns the Cobra start command.
func Cmd(server server) (*cobra.Command, error) {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd, nil
}

func createStartCMD(server server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start an agent",
		Long:  `Start a DIDComm agent accepting envelopes over HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			err = setLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}

			token, err := getUserSetVar(cmd, agentTokenFlagName, agentTokenEnvKey, true)
			if err != nil {
				return err
			}

			tlsCertFile, err := getUserSetVar(cmd, agentTLSCertFileFlagName, agentTLSCertFileEnvKey, true)
			if err != nil {
				return err
			}

			tlsKeyFile, err := getUserSetVar(cmd, agentTLSKeyFileFlagName, agentTLSKeyFileEnvKey, true)
			if err != nil {
				return err
			}

			parameters := &agentParameters{
				server:      server,
				cfg:         cfg,
				token:       token,
				tlsCertFile: tlsCertFile,
				tlsKeyFile:  tlsKeyFile,
			}

			return startAgent(cmd.Context(), parameters)
		},
	}
}

func createFlags(startCmd *cobra.Command) {
	// config file flag
	startCmd.Flags().StringP(configFileFlagName, configFileFlagShorthand, "", configFileFlagUsage)

	// agent label flag
	startCmd.Flags().StringP(agentLabelFlagName, agentLabelFlagShorthand, "", agentLabelFlagUsage)

	// agent endpoint flag
	startCmd.Flags().StringP(agentEndpointFlagName, agentEndpointFlagShorthand, "", agentEndpointFlagUsage)

	// inbound host flag
	startCmd.Flags().StringP(agentInboundHostFlagName, agentInboundHostFlagShorthand, "", agentInboundHostFlagUsage)

	// events url flag
	startCmd.Flags().StringP(agentEventsURLFlagName, agentEventsURLFlagShorthand, "", agentEventsURLFlagUsage)

	// metrics host flag
	startCmd.Flags().StringP(agentMetricsHostFlagName, agentMetricsHostFlagShorthand, "", agentMetricsHostFlagUsage)

	// log level
	startCmd.Flags().StringP(agentLogLevelFlagName, "", "", agentLogLevelFlagUsage)

	// agent token flag
	startCmd.Flags().StringP(agentTokenFlagName, agentTokenFlagShorthand, "", agentTokenFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(agentTLSCertFileFlagName,
		agentTLSCertFileFlagShorthand, "", agentTLSCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(agentTLSKeyFileFlagName,
		agentTLSKeyFileFlagShorthand, "", agentTLSKeyFileFlagUsage)
}

// loadConfig reads the config file, or the environment without one, then applies the flags the user set.
func loadConfig(cmd *cobra.Command) (agent.Config, error) {
	configFile, err := getUserSetVar(cmd, configFileFlagName, configFileEnvKey, true)
	if err != nil {
		return agent.Config{}, err
	}

	provider := config.FromEnv()
	if configFile != "" {
		provider = config.FromFile(configFile)
	}

	backend, err := provider()
	if err != nil {
		return agent.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := agent.ConfigFromLookup(lookup.New(backend))
	if err != nil {
		return agent.Config{}, fmt.Errorf("invalid config: %w", err)
	}

	overrides := map[string]*string{
		agentLabelFlagName:       &cfg.Label,
		agentEndpointFlagName:    &cfg.Endpoint,
		agentInboundHostFlagName: &cfg.InboundAddr,
		agentEventsURLFlagName:   &cfg.EventsURL,
		agentMetricsHostFlagName: &cfg.MetricsAddr,
		agentLogLevelFlagName:    &cfg.LogLevel,
	}

	for flagName, target := range overrides {
		if !cmd.Flags().Changed(flagName) {
			continue
		}

		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return agent.Config{}, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		*target = value
	}

	return cfg, cfg.Validate()
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func validateAuthorizationBearerToken(w http.ResponseWriter, r *http.Request, token string) bool {
	actHdr := r.Header.Get("Authorization")
	expHdr := "Bearer " + token

	if subtle.ConstantTimeCompare([]byte(actHdr), []byte(expHdr)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorised.\n")) // nolint:gosec,errcheck

		return false
	}

	return true
}

func authorizationMiddleware(token string) mux.MiddlewareFunc {
	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validateAuthorizationBearerToken(w, r, token) {
				next.ServeHTTP(w, r)
			}
		})
	}

	return middleware
}

func startAgent(ctx context.Context, parameters *agentParameters) error {
	if parameters.cfg.InboundAddr == "" {
		return errMissingHost
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := createAgent(ctx, parameters.cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("failed to close agent: %s", err)
		}
	}()

	go logEvents(a)

	router, err := newRouter(ctx, a, parameters.token)
	if err != nil {
		return err
	}

	if parameters.cfg.MetricsAddr != "" {
		go func() {
			logger.Infof("Serving metrics on host [%s]", parameters.cfg.MetricsAddr)

			err := parameters.server.ListenAndServe(parameters.cfg.MetricsAddr, a.Metrics().Handler(), "", "")
			if err != nil {
				logger.Errorf("metrics server stopped: %s", err)
			}
		}()
	} else {
		router.Handle(metricsPath, a.Metrics().Handler()).Methods(http.MethodGet)
	}

	logger.Infof("Starting aries agent on host [%s] as [%s]", parameters.cfg.InboundAddr, a.Identity().DID())

	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router)

	err = parameters.server.ListenAndServe(parameters.cfg.InboundAddr, handler, parameters.tlsCertFile,
		parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start aries agent on host [%s], cause:  %w", parameters.cfg.InboundAddr, err)
	}

	return nil
}

func createAgent(ctx context.Context, cfg agent.Config) (*agent.Agent, error) {
	opts := []agent.Option{agent.WithConfig(cfg)}

	if cfg.EventsURL != "" {
		src, err := ws.DialEventSource(ctx, cfg.EventsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to event stream [%s]: %w", cfg.EventsURL, err)
		}

		opts = append(opts, agent.WithEventSource(src))
	}

	a, err := agent.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize agent: %w", err)
	}

	return a, nil
}

func newRouter(ctx context.Context, a *agent.Agent, token string) (*mux.Router, error) {
	inbound, err := arieshttp.NewInboundHandler(a.Inbound())
	if err != nil {
		return nil, fmt.Errorf("failed to create inbound handler: %w", err)
	}

	protect := func(h http.Handler) http.Handler {
		if token == "" {
			return h
		}

		return authorizationMiddleware(token)(h)
	}

	router := mux.NewRouter()
	router.Handle(inboundPath, inbound)
	router.Handle(invitationPath, protect(invitationHandler(ctx, a))).Methods(http.MethodPost)
	router.Handle(connectionsPath, protect(connectionsHandler(a))).Methods(http.MethodGet)

	return router, nil
}

type invitationResponse struct {
	ConnectionID  string                 `json:"connection_id"`
	Invitation    *connection.Invitation `json:"invitation"`
	InvitationURL string                 `json:"invitation_url"`
}

// invitationHandler creates an invitation and serves its handshake in the background.
func invitationHandler(ctx context.Context, a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, rec, err := a.Invite(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)

			return
		}

		invURL, err := inv.URL(strings.TrimSuffix(a.Config().Endpoint, "/"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)

			return
		}

		go func() {
			out, err := a.Serve(ctx, rec)
			if err != nil {
				logger.Warnf("invitation %s failed: %s", inv.ID, err)

				return
			}

			logger.Infof("connected to %s (%s)", out.TheirLabel, out.TheirVerKey)
		}()

		writeJSON(w, http.StatusCreated, &invitationResponse{
			ConnectionID:  rec.ConnectionID,
			Invitation:    inv,
			InvitationURL: invURL,
		})
	}
}

func connectionsHandler(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, err := a.Connections()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)

			return
		}

		if conns == nil {
			conns = []*pairwise.Record{}
		}

		writeJSON(w, http.StatusOK, conns)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Unable to send response, %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger.Errorf("request failed: %s", err)

	writeJSON(w, status, map[string]string{"message": err.Error()})
}

// logEvents reports inbound messages no handler consumed.
func logEvents(a *agent.Agent) {
	for ev := range a.Events() {
		logger.Infof("received %s from %s", ev.Type(), ev.SenderVerKey)
	}
}
