// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
)

// RunInNamespace executes fn with the calling goroutine's OS thread switched
// into the named network namespace, restoring the original namespace
// afterward regardless of fn's outcome. Interface discovery for a backhaul
// link that lives in its own namespace (a common VRF-style deployment)
// has to run through this, since net.Interfaces() otherwise only ever sees
// the process's default namespace.
func RunInNamespace(name string, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer origNS.Close()

	targetNS, err := netns.GetFromName(name)
	if err != nil {
		return fmt.Errorf("get target netns %q: %w", name, err)
	}
	defer targetNS.Close()

	if err := netns.Set(targetNS); err != nil {
		return fmt.Errorf("setns to %q: %w", name, err)
	}

	fnErr := fn()

	if err := netns.Set(origNS); err != nil {
		return fmt.Errorf("restore original netns: %w", err)
	}

	return fnErr
}
