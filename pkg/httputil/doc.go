// Package httputil provides the HTTP plumbing shared by the source locator
// and the archive fetcher.
//
// # Overview
//
//   - [Client]: GET requests with a User-Agent, status classification and
//     observability hooks
//   - [Retry]: Automatic retry with exponential backoff
//
// # Errors
//
// Non-2xx responses come back as [*StatusError] so callers can report the
// status code. Failures worth retrying are wrapped in [RetryableError]:
//
//   - Network and transport errors
//   - 5xx server errors
//
// 4xx responses are final and never retried.
//
// # Retry
//
// [Retry] re-runs a function while it keeps returning a [RetryableError],
// doubling the delay each time:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    body, err = client.GetBytes(ctx, indexURL)
//	    return err
//	})
//
// # Timeouts
//
// Index requests use a bounded overall timeout ([DefaultTimeout]). Archive
// downloads stream large bodies, so they rely on a response-header timeout
// ([DefaultResponseHeaderTimeout]) plus an optional overall limit.
package httputil
