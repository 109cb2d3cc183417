// Package envelope implements the wire format exchanged between the relay hub
// and its clients.
//
// Every frame on a hub connection carries exactly one JSON object:
//
//	{
//	  "msgID": "5b0c...",
//	  "msgType": "verification",
//	  "msgSource": "<sender id>",
//	  "msgTarget": "<connection id>" | null,
//	  "msgTimestamp": "2024-01-01T12:00:00.000Z",
//	  "msgPayload": {"clientType": "operator"}
//	}
//
// The codec only checks the structure of the wrapper. Payloads are kept as raw
// JSON and are opaque to routing, with the exception of the reserved control
// types declared in this package.
//
// Usage:
//
//	env, err := envelope.Decode(frame)
//	if err != nil {
//		// connection-fatal: errors.Is(err, envelope.ErrMalformed)
//	}
//
//	reply, _ := envelope.New("server-main", envelope.TypeAssignedID,
//		envelope.AssignedIDPayload{AssignedID: id}, id)
//	data, _ := envelope.Encode(reply)
package envelope
