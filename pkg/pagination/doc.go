// Package pagination drains one day-long window of the upstream query API
// into normalised records.
//
// Pages are requested strictly one after another with offset pagination
// (STARTPOSITION/MAXRESULTS). Each page gets a fixed attempt budget:
//
//	401        refresh the bearer credential, retry immediately
//	429        back off 2^attempt * base, retry
//	5xx        back off 2^attempt * base, retry
//	network    back off 2^attempt * base, retry
//	other      abort the window
//	200        decode the page
//
// A window stops on the first empty page or the first page shorter than
// the page size. An aborted window keeps the records of the pages that
// already succeeded; the abort is reported in WindowResult.Err and is never
// fatal to the caller.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(queryClient, tokenProvider, pagination.DefaultConfig(), emitter)
//	res := fetcher.FetchWindow(ctx, w, cred)
//	cred = res.Credential // carry a refreshed token into the next window
package pagination
