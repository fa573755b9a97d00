// Package svcgroup controls a fixed group of services as a single unit by
// delegating to the host's service manager.
//
// A Group is an ordered list of member identifiers. A Controller fans each
// lifecycle verb out to every member through a Dispatcher and returns as soon
// as the service manager has acknowledged the requests; it never waits for
// members to finish starting or stopping:
//
//	group, err := svcgroup.NewGroup("grr-server", "ui", "http_server", "worker", "worker2")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d := svcgroup.NewSystemctlDispatcher().WithUnitPattern("grr-server@%s")
//	ctrl, err := svcgroup.NewController(group, d)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// systemctl --no-block start grr-server@ui ... for every member
//	err = ctrl.Start(context.Background())
//	fmt.Println(ctrl.State()) // started
//
// # Group state
//
// The controller tracks one state for the whole group: Started after a
// successful Start, Stopped after a successful Stop. Reload never changes
// it, and a failed operation leaves it as it was. Member processes may exit
// on their own without affecting it, the same way a oneshot unit with
// RemainAfterExit stays active.
//
// # Dispatch backends
//
//   - SystemctlDispatcher runs systemctl --no-block
//   - DBusDispatcher queues systemd jobs over D-Bus
//   - SuperviseDispatcher writes runit, daemontools or s6 control bytes
//
// Any other service manager can be plugged in by implementing Dispatcher.
//
// # Failures
//
// A failure for one member does not stop the others from being dispatched.
// The caller receives a *MultiError holding one *DispatchError per failed
// member. Nothing is retried; reconciliation belongs to the service manager.
package svcgroup
