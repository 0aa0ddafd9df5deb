// Package lorekeep provides a Go client for the lorekeep question-answering
// service.
//
// Every call acts on behalf of a user; the service enforces campaign
// ownership, so pass the id of the user whose campaigns are being queried.
//
//	client := lorekeep.New("http://localhost:8080",
//	    lorekeep.WithAPIKey("secret"),
//	)
//
//	resp, err := client.Query(ctx, "user-1", "camp-1", lorekeep.QueryRequest{
//	    Question: "Where is the Sunken Temple?",
//	})
//
// Streaming delivers the answer incrementally:
//
//	err := client.QueryStream(ctx, "user-1", "camp-1", req, func(ev lorekeep.StreamEvent) error {
//	    if ev.Type == lorekeep.EventChunk {
//	        fmt.Print(ev.Delta)
//	    }
//	    return nil
//	})
package lorekeep
