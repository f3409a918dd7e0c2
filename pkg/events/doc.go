/*
Package events provides the in-memory pub/sub broker for orchestrator
lifecycle events.

The provisioner and the shared-service manager publish workspace, service,
and snapshot events; the serve command attaches a logging subscriber and
tests subscribe directly. Delivery is best-effort: each subscriber has a
bounded buffer and a full buffer drops the event for that subscriber
rather than blocking the publisher.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.PublishWorkspace(types.EventWorkspaceRunning, w.ID, w.Name, "provisioned")
	evt := <-sub
*/
package events
