package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/denwong47/coffeeshop/go/machine"
	"github.com/denwong47/coffeeshop/go/shoperr"
)

// HelloMachine greets people. It demonstrates the full machine contract:
// field validation, a user-surfaced processing error, and slow work.
type HelloMachine struct {
	processCount atomic.Uint64
}

// NewHelloMachine builds the machine shared by this shop's baristas.
func NewHelloMachine() *HelloMachine {
	return &HelloMachine{}
}

var _ machine.Machine[HelloQuery, HelloPayload, HelloResult] = &HelloMachine{}

// Validate implements machine.Machine.
func (m *HelloMachine) Validate(query HelloQuery, input *HelloPayload) machine.ValidationErrors {
	var errors = make(machine.ValidationErrors)

	if input == nil {
		errors["$body"] = "The input is missing."
		return errors
	}

	switch age := input.Age; {
	case age <= 0:
		errors["age"] = "Age must be positive."
	case age < 18:
		errors["age"] = "You must be 18 years or older to use this service."
	case age >= 130:
		errors["age"] = "I don't think you are truthful about your age."
	}

	if query.Timeout() < time.Second {
		errors["timeout"] = "The timeout must be at least 1 second."
	}

	if len(errors) == 0 {
		return nil
	}
	return errors
}

// Call implements machine.Machine.
func (m *HelloMachine) Call(ctx context.Context, query HelloQuery, input *HelloPayload) (HelloResult, error) {
	// Arbitrary error to show how a machine surfaces one.
	if strings.EqualFold(input.Name, "little timmy") {
		return HelloResult{}, shoperr.New(http.StatusForbidden, "ForbiddenUser", shoperr.Details{
			"message": "Little Timmy is not allowed to use this system.",
		})
	}

	var year = time.Now().UTC().Year() - input.Age

	// Simulate a long-running process.
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return HelloResult{}, ctx.Err()
	}

	return HelloResult{
		Greeting: fmt.Sprintf("%s, %s! %d is a good year to be born in.",
			query.Language.Greeting(), input.Name, year),
		AnswerID: m.processCount.Add(1),
	}, nil
}
