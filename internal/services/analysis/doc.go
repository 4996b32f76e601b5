// Package analysis sends meal photos to an OpenAI-compatible vision model and
// parses the nutrition estimate it returns.
//
// # Request
//
// Each call posts one chat completion with the photo inlined as a base64 data
// URL and asks for a JSON object:
//
//	{"calories": 540, "description": "grilled salmon with rice", "confidence": 0.8}
//
// Requests are paced client-side with a token bucket (requests_per_minute).
//
// # Errors
//
// The client never retries. Failures are tagged with services markers so the
// retry engine can classify them: transport failures as ErrConnectivity or
// ErrTimeout, non-2xx responses as *StatusError (which exposes StatusCode),
// provider-side error bodies as ErrServerFault, and unusable payloads as
// ErrMalformedResponse. A model refusal is ErrRejected.
package analysis
