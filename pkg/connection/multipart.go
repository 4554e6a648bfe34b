package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/programshouse/medicaldash/pkg/models"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes body as multipart/form-data. Blobs become file parts,
// null fields are omitted, objects and arrays are sent as JSON text.
func encodeMultipart(body models.Record) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := body[k]
		if v == nil {
			continue
		}
		if blob, ok := models.AsBlob(v); ok {
			if err := writeBlob(w, k, blob); err != nil {
				return nil, "", err
			}
			continue
		}
		text, err := formValue(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode field %q: %w", k, err)
		}
		if err := w.WriteField(k, text); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func writeBlob(w *multipart.Writer, field string, blob *models.Blob) error {
	filename := blob.Filename
	if filename == "" {
		filename = field
	}
	ct := blob.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(blob.Data)
	return err
}

// formValue renders a scalar as form text. Booleans are sent as 1/0.
func formValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.Format(time.RFC3339), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
