package filemonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/service_layer/internal/model"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	return New(DefaultConfig(), "/var/spool/monitor-agent", nil, logger.NewDefault("test"))
}

func TestClassify_NoiseSuppression_TempFile(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `C:\Users\u\AppData\Local\Temp\x.tmp`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Source:    WatchSourceLocal,
	})
	assert.Nil(t, fe)
}

func TestClassify_NormalFileEmitted(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `C:\Users\u\Desktop\report.docx`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Source:    WatchSourceLocal,
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagNormal, fe.Flag)
}

func TestClassify_ExternalWatchNeverSuppressed(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `E:\secret.tmp`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Size:      100,
		Source:    WatchSourceUSB,
	})
	require.NotNil(t, fe, "external watch events are never suppressed even with a noisy extension")
}

func TestClassify_Rule1_USBCreate(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `E:\secret.docx`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Size:      1024,
		Source:    WatchSourceUSB,
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagUsbTransfer, fe.Flag)
	assert.Equal(t, model.ActionCopy, fe.Action)
	assert.True(t, fe.IsTransfer)
	assert.Equal(t, model.DirectionOutgoing, fe.Direction)
	assert.Equal(t, model.SourceUSB, fe.Source)
}

func TestClassify_Rule2_ExternalDelete(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `E:\secret.docx`,
		Action:    model.ActionDelete,
		Timestamp: time.Now(),
		Source:    WatchSourceUSB,
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.DirectionDeleteExternal, fe.Direction)
}

func TestClassify_Rule3_BrowserDownload(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:    `C:\Users\u\Downloads\installer.exe`,
		Action:      model.ActionCreate,
		Timestamp:   time.Now(),
		Size:        500,
		Source:      WatchSourceLocal,
		ProcessName: "chrome",
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagInternetDownload, fe.Flag)
	assert.True(t, fe.IsTransfer)
	assert.Equal(t, model.DirectionIncoming, fe.Direction)
}

func TestClassify_Rule4_ProbableUsbWhenKnownExternalNonEmpty(t *testing.T) {
	c := testClassifier(t)
	c.MarkExternalDriveKnown("e:\\")

	fe := c.Classify(RawNotification{
		FullPath:  `C:\Users\u\Desktop\mystery.bin`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Size:      10,
		Source:    WatchSourceLocal,
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagProbableUsbTransfer, fe.Flag)
}

func TestClassify_Rule5_MessagingApp(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:    `C:\Users\u\Downloads\file.zip`,
		Action:      model.ActionWrite,
		Timestamp:   time.Now(),
		Size:        10,
		Source:      WatchSourceLocal,
		ProcessName: "slack",
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagAppTransfer, fe.Flag)
}

func TestClassify_Rule6_DefaultNormalPreservesAction(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `C:\Users\u\Documents\notes.txt`,
		Action:    model.ActionRename,
		Timestamp: time.Now(),
		Source:    WatchSourceLocal,
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagNormal, fe.Flag)
	assert.Equal(t, model.ActionRename, fe.Action)
	assert.Equal(t, model.DirectionUnknown, fe.Direction)
}

func TestClassify_RuleOrder_Rule1BeatsRule3(t *testing.T) {
	c := testClassifier(t)
	// External watch + browser process: rule 1 must win over rule 3.
	fe := c.Classify(RawNotification{
		FullPath:    `E:\download.bin`,
		Action:      model.ActionCreate,
		Timestamp:   time.Now(),
		Size:        10,
		Source:      WatchSourceUSB,
		ProcessName: "chrome",
	})
	require.NotNil(t, fe)
	assert.Equal(t, model.FlagUsbTransfer, fe.Flag)
}

func TestClassify_SuppressesDotfiles(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `/home/u/Documents/.hidden`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Source:    WatchSourceLocal,
	})
	assert.Nil(t, fe)
}

func TestClassify_SuppressesOwnSpoolPath(t *testing.T) {
	c := testClassifier(t)
	fe := c.Classify(RawNotification{
		FullPath:  `/var/spool/monitor-agent/0001.lgq`,
		Action:    model.ActionCreate,
		Timestamp: time.Now(),
		Source:    WatchSourceLocal,
	})
	assert.Nil(t, fe)
}
