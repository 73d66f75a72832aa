/*
Package events provides an in-memory event broker for Stratum's pub/sub
messaging.

The broker broadcasts database lifecycle events (path creation, published
commits, merge results, commit faults) to interested subscribers over
buffered channels. Delivery is non-blocking: a subscriber that falls behind
drops events rather than stalling the commit path.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Metadata["path"])
		}
	}()

The object database publishes EventCommitPublished, EventCommitMerged and
EventCommitFault with the path name and snapshot address in Metadata.
*/
package events
