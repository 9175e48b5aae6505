package sip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siprec-bridge/pkg/siprec"
)

func TestExtractMultipartContent(t *testing.T) {
	logger := testLogger().WithField("test", t.Name())

	metadataXML, err := siprec.CreateMetadataResponse(siprec.NewMetadata("sess-1", time.Now()))
	require.NoError(t, err)
	sdp := siprec.GenerateAnswerSDP("10.0.0.5", 3456)

	contentType, body := siprec.CreateMultipartResponse(sdp, metadataXML)

	gotSDP, gotMetadata := ExtractMultipartContent([]byte(body), contentType, logger)
	assert.Equal(t, sdp, string(gotSDP))
	assert.Equal(t, metadataXML, string(gotMetadata))
}

func TestExtractMultipartContentNonMultipart(t *testing.T) {
	logger := testLogger().WithField("test", t.Name())

	sdp, metadata := ExtractMultipartContent([]byte("v=0\r\n"), "application/sdp", logger)
	assert.Nil(t, sdp)
	assert.Nil(t, metadata)
}

func TestExtractMultipartContentMissingBoundary(t *testing.T) {
	logger := testLogger().WithField("test", t.Name())

	sdp, metadata := ExtractMultipartContent([]byte("ignored"), "multipart/mixed", logger)
	assert.Nil(t, sdp)
	assert.Nil(t, metadata)
}

func TestExtractMultipartContentBadContentType(t *testing.T) {
	logger := testLogger().WithField("test", t.Name())

	sdp, metadata := ExtractMultipartContent([]byte("ignored"), "", logger)
	assert.Nil(t, sdp)
	assert.Nil(t, metadata)
}
