// Package batch coalesces independently issued requests into provider
// $batch calls.
//
// A Coordinator decorates a client.HTTPClient. GET and POST calls are held
// for a short window, then sent as one batch per chunk of at most
// SplitThreshold entries. Chunks run one after another. Every caller blocks
// until its own sub-response has been demultiplexed, or until its context
// is done.
//
// Identical GETs inside one window share a single entry and fan out to all
// waiters. POSTs are never merged. Sub-responses that cannot be matched are
// retried with the rest of their chunk up to MaxRetries times, after which
// the waiters are rejected.
//
//	graph, _ := batch.New(authed, batch.DefaultConfig())
//	sp, _ := batch.New(authed, batch.DefaultSharePointConfig("https://contoso.sharepoint.com/sites/hr"))
package batch
