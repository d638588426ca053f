package tokengate

import (
	"context"

	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/sirupsen/logrus"
)

// Outcome is the gate decision for one request. Only Authenticated matters
// to callers; the other values exist for logs and metrics.
type Outcome uint8

const (
	OutcomeAuthenticated Outcome = iota
	OutcomeNoToken
	OutcomeRejectedInvalid
	OutcomeRejectedExpired
	OutcomeRejectedUnsupported
	OutcomeRejectedWrongType
	OutcomeRejectedRevoked
	OutcomeRejectedStoreUnavailable
)

// Authenticated reports whether the request carries a usable identity.
func (o Outcome) Authenticated() bool {
	return o == OutcomeAuthenticated
}

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeNoToken:
		return "no_token"
	case OutcomeRejectedInvalid:
		return "invalid"
	case OutcomeRejectedExpired:
		return "expired"
	case OutcomeRejectedUnsupported:
		return "unsupported"
	case OutcomeRejectedWrongType:
		return "wrong_type"
	case OutcomeRejectedRevoked:
		return "revoked"
	case OutcomeRejectedStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Authenticate runs the per-request gate on a bearer token. It fails closed:
// when the blacklist cannot be consulted in time the token is rejected.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Identity, Outcome) {
	if e.ready() != nil {
		return Identity{}, OutcomeRejectedStoreUnavailable
	}
	done := e.instrument(opAuthenticate, "")

	res := e.flows.Authenticate(ctx, accessToken)
	outcome := outcomeFor(res.Failure)

	switch outcome {
	case OutcomeAuthenticated:
		c := res.Claims
		done(MetricAuthAccepted, outcome.String())
		return Identity{
			UserID:    c.UserID,
			UserUUID:  c.UserUUID,
			Channel:   c.Channel,
			Role:      c.Role,
			TokenID:   c.ID,
			SessionID: c.SessionID,
		}, outcome
	case OutcomeNoToken:
		done(MetricAuthNoToken, outcome.String())
	case OutcomeRejectedRevoked:
		e.metricInc(MetricAuthRejected)
		done(MetricAuthRevoked, outcome.String())
	case OutcomeRejectedStoreUnavailable:
		e.log.WithError(res.Err).WithFields(logrus.Fields{"op": opAuthenticate}).
			Error("tokengate: request rejected, revocation store unavailable")
		e.metricInc(MetricAuthRejected)
		done(MetricAuthStoreUnavailable, outcome.String())
	default:
		done(MetricAuthRejected, outcome.String())
	}

	return Identity{}, outcome
}

func outcomeFor(kind flows.AuthenticateFailureKind) Outcome {
	switch kind {
	case flows.AuthenticateFailureNone:
		return OutcomeAuthenticated
	case flows.AuthenticateFailureNoToken:
		return OutcomeNoToken
	case flows.AuthenticateFailureExpired:
		return OutcomeRejectedExpired
	case flows.AuthenticateFailureUnsupported:
		return OutcomeRejectedUnsupported
	case flows.AuthenticateFailureWrongType:
		return OutcomeRejectedWrongType
	case flows.AuthenticateFailureRevoked:
		return OutcomeRejectedRevoked
	case flows.AuthenticateFailureStore:
		return OutcomeRejectedStoreUnavailable
	default:
		return OutcomeRejectedInvalid
	}
}
