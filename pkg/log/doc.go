/*
Package log provides structured logging for Stratum built on zerolog.

The package wraps a single global zerolog logger configured once at process
start via Init. Components obtain child loggers carrying identifying fields
(component, path, snapshot) so merge and commit activity can be traced per
database path.

# Usage

Initialize once:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers:

	logger := log.WithComponent("consensus")
	logger.Debug().Str("proposal", addr.String()).Msg("merging proposal")

Console output (the default) is human-readable with RFC3339 timestamps;
JSON output is for log shippers.
*/
package log
