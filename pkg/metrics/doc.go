/*
Package metrics provides Prometheus metrics for Stratum.

Collectors are package-level and registered at init, matching the single
registry model. The commit path records per-path commit outcomes
(published, merged, fault) and merge latency; the transaction layer tracks
open transactions and constructed objects.

# Usage

Expose the endpoint:

	go func() {
		if err := metrics.Serve(":9464"); err != nil {
			log.Errorf("metrics server stopped", err)
		}
	}()

Record a commit outcome:

	metrics.CommitsTotal.WithLabelValues(path, "merged").Inc()
*/
package metrics
