package validate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/edgecheck/edgecheck/internal/fetch"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/origin"
	"github.com/edgecheck/edgecheck/pkg/types"
)

// DefaultStatusPath is the Emby endpoint that answers without authentication.
const DefaultStatusPath = "/emby/system/info/public"

// Dependencies allow test overrides for transport and logging.
type Dependencies struct {
	Fetcher    *fetch.Client
	Logger     logrus.FieldLogger
	StatusPath string
}

// Validator confirms an origin hosts an Emby server.
type Validator struct {
	fetcher    *fetch.Client
	logger     logrus.FieldLogger
	statusPath string
}

func New(deps Dependencies) *Validator {
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.Dependencies{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	statusPath := deps.StatusPath
	if statusPath == "" {
		statusPath = DefaultStatusPath
	}
	return &Validator{fetcher: fetcher, logger: logger, statusPath: statusPath}
}

// StatusURL returns the public info URL on the authority of originURL.
func (v *Validator) StatusURL(originURL string) (string, error) {
	return origin.Join(originURL, v.statusPath)
}

// Validate issues a single GET against the status path of originURL's
// authority and classifies the outcome.
func (v *Validator) Validate(ctx context.Context, originURL string) types.ValidationResult {
	target, err := v.StatusURL(originURL)
	if err != nil {
		return types.ValidationResult{Outcome: types.OutcomeMalformedURL, Message: err.Error()}
	}

	log := v.logger.WithField("url", target)
	resp, err := v.fetcher.Get(ctx, target, fetch.AcceptJSON)
	if err != nil {
		log.WithError(err).Info("status endpoint unreachable")
		return types.ValidationResult{Outcome: types.OutcomeNetworkError, Message: networkMessage(err)}
	}
	if !resp.OK() {
		log.WithField("status", resp.Status).Info("status endpoint rejected request")
		return types.ValidationResult{Outcome: types.OutcomeHTTPError, Status: resp.Status}
	}

	server, ok := decodeIdentity(resp.Body)
	if !ok {
		log.Info("status endpoint response is not an Emby public info object")
		return types.ValidationResult{Outcome: types.OutcomeInvalidShape, Status: resp.Status}
	}
	log.WithFields(logrus.Fields{"server_name": server.Name, "version": server.Version}).Info("emby server recognised")
	return types.ValidationResult{Outcome: types.OutcomeValid, Server: &server, Status: resp.Status}
}

// publicInfo holds the two fields that make a response count as Emby.
type publicInfo struct {
	ServerName *string `json:"ServerName"`
	Version    *string `json:"Version"`
}

func decodeIdentity(body []byte) (types.ServerIdentity, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return types.ServerIdentity{}, false
	}
	var info publicInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return types.ServerIdentity{}, false
	}
	if info.ServerName == nil || info.Version == nil {
		return types.ServerIdentity{}, false
	}
	return types.ServerIdentity{Name: *info.ServerName, Version: *info.Version}, true
}

func networkMessage(err error) string {
	var netErr *fetch.NetworkError
	if errors.As(err, &netErr) && netErr.Err != nil {
		return netErr.Err.Error()
	}
	return err.Error()
}
