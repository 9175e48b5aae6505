package sip

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExtractMultipartContent splits a SIPREC multipart body into its SDP and
// rs-metadata parts. Either return value may be nil when the corresponding
// part is absent or the body is not multipart.
func ExtractMultipartContent(body []byte, contentType string, logger *logrus.Entry) ([]byte, []byte) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse Content-Type for SIPREC body")
		return nil, nil
	}

	if !strings.HasPrefix(strings.ToLower(mediaType), "multipart/") {
		return nil, nil
	}

	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		logger.Warn("Multipart SIPREC body missing boundary parameter")
		return nil, nil
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)

	var sdpData []byte
	var rsMetadata []byte

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.WithError(err).Warn("Failed to iterate multipart SIPREC body")
			break
		}

		ct := part.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}
		partType, _, _ := mime.ParseMediaType(ct)

		data, err := io.ReadAll(part)
		if err != nil {
			logger.WithError(err).Warn("Failed to read multipart section")
			continue
		}

		switch strings.ToLower(partType) {
		case "application/sdp":
			sdpData = data
		case "application/rs-metadata+xml":
			rsMetadata = data
		default:
			logger.WithField("content_type", partType).Debug("Ignoring non-SIPREC multipart section")
		}
	}

	return sdpData, rsMetadata
}
