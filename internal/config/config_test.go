package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	c := Empty()
	require.NoError(t, c.Validate())

	assert.Equal(t, "odom", c.GetWorldFrame())
	assert.Equal(t, "info", c.GetLogLevel())
	assert.Equal(t, "console", c.GetLogFormat())
	assert.Equal(t, "livox/lidar", c.GetTopicName())
	assert.Equal(t, "livox", c.GetTopicType())
	assert.Equal(t, 10, c.GetTopicQueueLength())
	assert.Equal(t, 50*time.Millisecond, c.GetProcessingRetryPeriod())
	assert.Equal(t, time.Second, c.GetMaxWaitForPose())
	assert.Equal(t, "", c.GetSensorFrameID())
	assert.Zero(t, c.GetTimeOffset())
	assert.False(t, c.GetUndistortMotion())
	assert.Equal(t, "", c.GetReprojectedTopic())
	assert.Equal(t, "", c.GetRangeImageTopic())
	assert.Equal(t, 56301, c.GetListenPort())
	assert.Equal(t, 100*time.Millisecond, c.GetFramePeriod())
	assert.Equal(t, 10*time.Second, c.GetPoseRetention())
	assert.Equal(t, 100, c.GetNumInterpolationIntervals())
	assert.Equal(t, "base_link", c.GetPoseFileChild())
	assert.True(t, c.GetRangeImageEnabled())
	assert.Equal(t, 1024, c.GetRangeImageWidth())
	assert.Equal(t, 64, c.GetRangeImageHeight())
	assert.Equal(t, "sweeps.db", c.GetLedgerPath())
	assert.Equal(t, "localhost:50061", c.GetDebugGRPCAddr())
	assert.False(t, c.GetRenderRangeImagePNG())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "sweepsync.yaml", `
world_frame: map
log: {level: debug, format: json}
input:
  topic_name: points
  topic_type: pointcloud2
  topic_queue_length: 3
  processing_retry_period: 0.2
  max_wait_for_pose: 0
  time_offset: -0.5
  undistort_motion: true
  reprojected_pointcloud_topic_name: reprojected
  listen_addr: "127.0.0.1:57000"
pose_history:
  retention: 2.5
  num_interpolation_intervals: 20
  static_transforms:
    - parent: base_link
      child: lidar
      translation: [0.1, 0, 1.2]
      rotation_wxyz: [1, 0, 0, 0]
ledger: {path: ""}
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "map", c.GetWorldFrame())
	assert.Equal(t, "debug", c.GetLogLevel())
	assert.Equal(t, "json", c.GetLogFormat())
	assert.Equal(t, "points", c.GetTopicName())
	assert.Equal(t, "pointcloud2", c.GetTopicType())
	assert.Equal(t, 3, c.GetTopicQueueLength())
	assert.Equal(t, 200*time.Millisecond, c.GetProcessingRetryPeriod())
	assert.Zero(t, c.GetMaxWaitForPose())
	assert.Equal(t, -500*time.Millisecond, c.GetTimeOffset())
	assert.True(t, c.GetUndistortMotion())
	assert.Equal(t, "reprojected", c.GetReprojectedTopic())
	assert.Equal(t, 57000, c.GetListenPort())
	assert.Equal(t, 2500*time.Millisecond, c.GetPoseRetention())
	assert.Equal(t, 20, c.GetNumInterpolationIntervals())
	require.Len(t, c.PoseHistory.StaticTransforms, 1)
	assert.Equal(t, [3]float64{0.1, 0, 1.2}, c.PoseHistory.StaticTransforms[0].Translation)
	assert.Equal(t, "", c.GetLedgerPath())
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "sweepsync.json", `{"input": {"topic_queue_length": 5}, "range_image": {"width": 32, "height": 8}}`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.GetTopicQueueLength())
	assert.Equal(t, 32, c.GetRangeImageWidth())
	assert.Equal(t, 8, c.GetRangeImageHeight())
	assert.Equal(t, "odom", c.GetWorldFrame())
}

func TestLoadEmptyYAML(t *testing.T) {
	t.Parallel()
	c, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, "odom", c.GetWorldFrame())
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, file, body, want string
	}{
		{"extension", "c.toml", "x = 1", "extension"},
		{"unknown json key", "c.json", `{"bogus": 1}`, "unknown field"},
		{"unknown yaml key", "c.yaml", "bogus: 1", "not found"},
		{"bad json", "c.json", `{`, "parse"},
		{"empty topic name", "c.yaml", "input: {topic_name: ''}", "topic_name"},
		{"zero queue length", "c.yaml", "input: {topic_queue_length: 0}", "topic_queue_length"},
		{"zero retry period", "c.yaml", "input: {processing_retry_period: 0}", "processing_retry_period"},
		{"negative max wait", "c.yaml", "input: {max_wait_for_pose: -1}", "max_wait_for_pose"},
		{"empty world frame", "c.yaml", "world_frame: ''", "world_frame"},
		{"unknown topic type", "c.yaml", "input: {topic_type: velodyne}", "TopicType"},
		{"unknown log level", "c.yaml", "log: {level: loud}", "Level"},
		{"bad listen addr", "c.yaml", "input: {listen_addr: nope}", "listen_addr"},
		{"inverted elevation", "c.yaml", "range_image: {min_elevation_deg: 10, max_elevation_deg: -10}", "elevation"},
		{"zero interpolation intervals", "c.yaml", "pose_history: {num_interpolation_intervals: 0}", "NumInterpolationIntervals"},
		{"static transform missing child", "c.yaml", "pose_history: {static_transforms: [{parent: a, rotation_wxyz: [1,0,0,0]}]}", "Child"},
		{"static transform self edge", "c.yaml", "pose_history: {static_transforms: [{parent: a, child: a, rotation_wxyz: [1,0,0,0]}]}", "Child"},
		{"static transform zero rotation", "c.yaml", "pose_history: {static_transforms: [{parent: a, child: b}]}", "rotation_wxyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTooLarge(t *testing.T) {
	t.Parallel()
	body := "# " + strings.Repeat("x", maxFileSize) + "\n"
	_, err := Load(writeFile(t, "big.yaml", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestGetListenPortInvalid(t *testing.T) {
	t.Parallel()
	addr := "localhost:http"
	c := &Config{Input: InputConfig{ListenAddr: &addr}}
	assert.Zero(t, c.GetListenPort())
}
