// Package httpclient dispatches the GET requests a worker fires at the target.
//
// Each worker builds one pooled [http.Client] with [NewClient] and shares it
// between every request of every phase:
//
//	client := httpclient.NewClient(cfg)
//	d := httpclient.NewDispatcher(client, cfg.Timeout)
//	out := d.Dispatch(ctx, httpclient.JoinURL(cfg.TargetURL, "/health"))
//
// [Dispatcher.Dispatch] never returns an error. Transport failures, non-2xx
// responses and timeouts all come back as a failed [metrics.Outcome] that
// still carries the elapsed time. A request whose measured delay reaches the
// timeout is always failed, even when its response arrived.
package httpclient
