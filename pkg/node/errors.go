package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

var (
	ErrConfig                 = errors.New("configuration error")
	ErrConnectionTimeout      = errors.New("connection timeout")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrReconciliationTimeout  = errors.New("reconciliation timeout")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrReconciliationFailed   = errors.New("reconciliation failed")
	ErrPortfolioInit          = errors.New("portfolio initialization failed")
	ErrDisconnectionTimeout   = errors.New("disconnection timeout")
	ErrStartAborted           = errors.New("start aborted")
	ErrRuntimeFault           = errors.New("runtime fault")
	ErrInvalidTransition      = errors.New("invalid state transition")
)

// ConfigError reports misuse of the node's control surface or a venue that
// cannot be resolved at build time.
type ConfigError struct {
	Op    string
	Venue model.Venue
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Venue != "" {
		return fmt.Sprintf("%s: venue %s: %v", e.Op, e.Venue, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Phase names a stage of the node lifecycle a fault is attributed to.
type Phase string

const (
	PhaseConnection     Phase = "connection"
	PhaseReconciliation Phase = "reconciliation"
	PhasePortfolio      Phase = "portfolio"
	PhaseRunning        Phase = "running"
	PhaseDisconnection  Phase = "disconnection"
)

// FaultError attributes a failure to exactly one phase and, when a client
// caused it, to that client. Kind is one of the sentinel errors above.
type FaultError struct {
	Phase Phase
	Venue model.Venue
	Role  venue.Role
	Kind  error
	Err   error
}

func (e *FaultError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Phase))
	b.WriteString(" phase")
	if e.Venue != "" {
		b.WriteString(": ")
		b.WriteString(clientID(e.Venue, e.Role))
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func (e *FaultError) Is(target error) bool {
	return target == e.Kind
}

func clientID(v model.Venue, r venue.Role) string {
	if r == "" {
		return string(v)
	}
	return string(v) + "/" + string(r)
}
