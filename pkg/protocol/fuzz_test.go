package protocol

import (
	"bytes"
	"testing"
)

// FuzzDecodeFrame fuzzes the frame decoder with random bytes
func FuzzDecodeFrame(f *testing.F) {
	var validBuf bytes.Buffer
	EncodeFrame(&validBuf, MinFrameSize, "/signin:alice:pw")
	f.Add(validBuf.Bytes())
	f.Add([]byte{})
	f.Add([]byte("short"))

	f.Fuzz(func(t *testing.T, data []byte) {
		payload, err := DecodeFrame(bytes.NewReader(data), MinFrameSize)
		if err == nil && len(payload) > MinFrameSize {
			t.Fatalf("payload longer than frame: %d", len(payload))
		}
	})
}

// FuzzClassify fuzzes the inbound classifier
func FuzzClassify(f *testing.F) {
	f.Add("/response:success:Alice:0")
	f.Add("/response:kick")
	f.Add("BROADCAST\nalice\nhello\n")
	f.Add("PRIVATE\nbob\nhi")
	f.Add("garbage")

	f.Fuzz(func(t *testing.T, payload string) {
		in := Classify(payload)
		if in.Raw != payload {
			t.Fatalf("raw payload not preserved")
		}
		if in.Kind == InboundPush && IsResponse(payload) {
			t.Fatalf("response-tagged payload classified as push: %q", payload)
		}
	})
}

// FuzzParseRequest fuzzes the request parser
func FuzzParseRequest(f *testing.F) {
	f.Add("/signup:alice:pw:Alice")
	f.Add("/checklogin")
	f.Add("@bob hi")
	f.Add("@")

	f.Fuzz(func(t *testing.T, payload string) {
		req, err := ParseRequest(payload)
		if err != nil {
			return
		}
		if req.Command == CommandSend && req.Receiver == "" && len(payload) > 0 && payload[0] == '@' {
			t.Fatalf("private send parsed without receiver: %q", payload)
		}
	})
}
