// Package httpclient turns probe settings into the HTTP request every load-test
// worker repeats.
//
// # Request Building
//
// [NewRequestBuilder] validates the probe once. Build is then called per probe
// and returns a fresh request with its own body reader and header map:
//
//	builder, err := httpclient.NewRequestBuilder(target, cfg.LoadTest.Probe)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// The default probe is a POST of the form field text=This is a test.
//
// # Requesters
//
// [Requester] implements runner.Requester: any 2xx response is a success and
// anything else is reported as *runner.HTTPError. [NewRequesterFactory] wires
// a fresh client, sized to the run's worker count, into every run:
//
//	factory := httpclient.NewRequesterFactory(cfg.LoadTest.Probe, provider, nil)
//	ctrl := runner.NewController(store, factory)
package httpclient
