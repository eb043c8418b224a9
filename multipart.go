package discordrb

import (
	"bytes"
	"mime/multipart"

	jsoniter "github.com/json-iterator/go"
)

// buildMultipartMessage assembles a multipart/form-data body carrying a
// JSON payload part alongside a file part, the shape the REST API wants
// for messages with attachments.
func buildMultipartMessage(filename string, data []byte, content string) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	payload, err := jsoniter.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
