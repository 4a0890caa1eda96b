package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/plate-recognition-service/config"
	"github.com/Tutortoise/plate-recognition-service/handoff"
)

func TestNewSinkWithoutDatabase(t *testing.T) {
	sink, store, err := newSink(context.Background(), &config.Config{})

	require.NoError(t, err)
	assert.Nil(t, store)
	require.Len(t, sink, 1)
	assert.IsType(t, handoff.LogSink{}, sink[0])
}

func TestNewReader(t *testing.T) {
	reader, err := newReader(context.Background(), &config.Config{OCREngine: config.OCRTesseract, TesseractLang: "eng"})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", reader.Name())

	_, err = newReader(context.Background(), &config.Config{OCREngine: "paddle"})
	assert.ErrorContains(t, err, "unknown OCR engine")
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetReportCaller(false)

	setupLogging(true)

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}
