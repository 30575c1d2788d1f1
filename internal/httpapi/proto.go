package httpapi

import (
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads. A location report with full device info is well under 4 KiB.
const maxRequestBody = 64 << 10

// isProtobuf reports whether the request carries a protobuf payload.
// Constrained trackers post "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "application/x-protobuf" || ct == "application/protobuf"
}

func wantsProtobuf(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Accept"))
	if err != nil {
		return isProtobuf(r)
	}
	return ct == "application/x-protobuf" || ct == "application/protobuf"
}

func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
