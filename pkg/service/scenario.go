package service

import (
	"context"

	"github.com/citrusframework/citrus-simulator-sub000/pkg/models"
)

// Scenario is one simulated test scenario. Run is invoked on a worker
// goroutine with a context bound to the reserved execution; returning nil
// finalizes the execution as SUCCESS, returning an error (or panicking)
// finalizes it as FAILED.
type Scenario interface {
	Name() string
	Run(sc *ScenarioContext) error
}

// ScenarioFunc adapts a function to the Scenario interface.
type ScenarioFunc struct {
	ScenarioName string
	Fn           func(sc *ScenarioContext) error
}

func (s ScenarioFunc) Name() string { return s.ScenarioName }

func (s ScenarioFunc) Run(sc *ScenarioContext) error { return s.Fn(sc) }

// ScenarioContext binds a running scenario body to its reserved execution.
// It maps the body's step and message signals onto the action and message
// correlators; all calls block until the corresponding write is durable, so
// subsequent steps observe prior state.
type ScenarioContext struct {
	executionID int64
	parameters  map[string]string
	ctx         context.Context
	actions     *ActionService
	messages    *MessageService
}

// ExecutionID returns the id of the reserved execution this scenario runs under.
func (sc *ScenarioContext) ExecutionID() int64 {
	return sc.executionID
}

// Parameter returns the named start parameter, or "" when absent.
func (sc *ScenarioContext) Parameter(name string) string {
	return sc.parameters[name]
}

// Parameters returns a copy of all start parameters.
func (sc *ScenarioContext) Parameters() map[string]string {
	out := make(map[string]string, len(sc.parameters))
	for k, v := range sc.parameters {
		out[k] = v
	}
	return out
}

// Context returns the worker context; it is cancelled on pool shutdown.
func (sc *ScenarioContext) Context() context.Context {
	return sc.ctx
}

// StartStep records the beginning of a named scenario step.
func (sc *ScenarioContext) StartStep(name string) error {
	_, err := sc.actions.Begin(sc.executionID, name)
	return err
}

// CompleteStep records the completion of the most recent open step of that name.
func (sc *ScenarioContext) CompleteStep(name string) error {
	return sc.actions.Complete(sc.executionID, name)
}

// ReceiveMessage correlates an inbound message to the execution.
func (sc *ScenarioContext) ReceiveMessage(payload, citrusMessageID string, headers map[string]string) (models.Message, error) {
	return sc.messages.Attach(sc.executionID, models.InboundDirection, payload, citrusMessageID, headers)
}

// SendMessage correlates an outbound message to the execution.
func (sc *ScenarioContext) SendMessage(payload, citrusMessageID string, headers map[string]string) (models.Message, error) {
	return sc.messages.Attach(sc.executionID, models.OutboundDirection, payload, citrusMessageID, headers)
}

// AttachMessage correlates a message with an explicit direction.
func (sc *ScenarioContext) AttachMessage(direction models.Direction, payload, citrusMessageID string, headers map[string]string) (models.Message, error) {
	return sc.messages.Attach(sc.executionID, direction, payload, citrusMessageID, headers)
}
