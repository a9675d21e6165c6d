package sessionkit_test

import (
	"context"
	"fmt"

	"github.com/indura/sessionkit"
	"github.com/indura/sessionkit/storage"
)

// ExampleNew builds a controller on shared in-memory storage.
func ExampleNew() {
	origin := storage.NewMemory()

	ctl, err := sessionkit.New().
		WithStorage(origin.Tab()).
		Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer ctl.Close()

	fmt.Println(ctl.State().State)
	// Output: anonymous
}

// ExampleController_SignIn shows how results carry user-facing failures.
func ExampleController_SignIn() {
	var ctl *sessionkit.Controller
	res := ctl.SignIn(context.Background(), "provider@clinic.test", "password")
	if !res.Success {
		fmt.Println(res.Err.Message, res.Err.Kind.Retryable())
	}
}

// ExampleController_Subscribe reacts to changes made in this and other tabs.
func ExampleController_Subscribe() {
	var ctl *sessionkit.Controller
	cancel := ctl.Subscribe(func(st sessionkit.AuthState) {
		fmt.Println("now", st.State, st.Role())
	})
	defer cancel()
}
