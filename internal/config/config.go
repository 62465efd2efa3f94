// Package config loads the sweepsync configuration file.
//
// Every leaf is a pointer so a partial file only overrides what it names;
// the Get* accessors fall back to defaults for anything left unset.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	WorldFrame  *string           `json:"world_frame,omitempty" yaml:"world_frame,omitempty"`
	Log         LogConfig         `json:"log" yaml:"log"`
	Input       InputConfig       `json:"input" yaml:"input"`
	PoseHistory PoseHistoryConfig `json:"pose_history" yaml:"pose_history"`
	RangeImage  RangeImageConfig  `json:"range_image" yaml:"range_image"`
	Ledger      LedgerConfig      `json:"ledger" yaml:"ledger"`
	Debug       DebugConfig       `json:"debug" yaml:"debug"`
}

type LogConfig struct {
	Level  *string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format *string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
}

// InputConfig describes the sweep source and the ingestion queue. Times are
// in seconds.
type InputConfig struct {
	TopicName             *string  `json:"topic_name,omitempty" yaml:"topic_name,omitempty"`
	TopicType             *string  `json:"topic_type,omitempty" yaml:"topic_type,omitempty" validate:"omitempty,oneof=livox pointcloud2"`
	TopicQueueLength      *int     `json:"topic_queue_length,omitempty" yaml:"topic_queue_length,omitempty"`
	ProcessingRetryPeriod *float64 `json:"processing_retry_period,omitempty" yaml:"processing_retry_period,omitempty"`
	MaxWaitForPose        *float64 `json:"max_wait_for_pose,omitempty" yaml:"max_wait_for_pose,omitempty"`
	SensorFrameID         *string  `json:"sensor_frame_id,omitempty" yaml:"sensor_frame_id,omitempty"`
	TimeOffset            *float64 `json:"time_offset,omitempty" yaml:"time_offset,omitempty"`
	UndistortMotion       *bool    `json:"undistort_motion,omitempty" yaml:"undistort_motion,omitempty"`
	ReprojectedTopic      *string  `json:"reprojected_pointcloud_topic_name,omitempty" yaml:"reprojected_pointcloud_topic_name,omitempty"`
	RangeImageTopic       *string  `json:"projected_range_image_topic_name,omitempty" yaml:"projected_range_image_topic_name,omitempty"`
	ListenAddr            *string  `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	FramePeriod           *float64 `json:"frame_period,omitempty" yaml:"frame_period,omitempty" validate:"omitempty,gt=0"`
}

type PoseHistoryConfig struct {
	Retention                 *float64          `json:"retention,omitempty" yaml:"retention,omitempty" validate:"omitempty,gt=0"`
	NumInterpolationIntervals *int              `json:"num_interpolation_intervals,omitempty" yaml:"num_interpolation_intervals,omitempty" validate:"omitempty,gt=0"`
	StaticTransforms          []StaticTransform `json:"static_transforms,omitempty" yaml:"static_transforms,omitempty" validate:"dive"`
	PoseFile                  *string           `json:"pose_file,omitempty" yaml:"pose_file,omitempty"`
	// PoseFileChild is the frame the pose file positions relative to the
	// world frame.
	PoseFileChild *string `json:"pose_file_child,omitempty" yaml:"pose_file_child,omitempty"`
}

// StaticTransform is a fixed parent_T_child edge.
type StaticTransform struct {
	Parent       string     `json:"parent" yaml:"parent" validate:"required"`
	Child        string     `json:"child" yaml:"child" validate:"required,nefield=Parent"`
	Translation  [3]float64 `json:"translation" yaml:"translation"`
	RotationWXYZ [4]float64 `json:"rotation_wxyz" yaml:"rotation_wxyz"`
}

type RangeImageConfig struct {
	Enabled         *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Width           *int     `json:"width,omitempty" yaml:"width,omitempty" validate:"omitempty,gt=0"`
	Height          *int     `json:"height,omitempty" yaml:"height,omitempty" validate:"omitempty,gt=0"`
	MinElevationDeg *float64 `json:"min_elevation_deg,omitempty" yaml:"min_elevation_deg,omitempty" validate:"omitempty,gte=-90,lte=90"`
	MaxElevationDeg *float64 `json:"max_elevation_deg,omitempty" yaml:"max_elevation_deg,omitempty" validate:"omitempty,gte=-90,lte=90"`
	MinRange        *float64 `json:"min_range,omitempty" yaml:"min_range,omitempty" validate:"omitempty,gte=0"`
	MaxRange        *float64 `json:"max_range,omitempty" yaml:"max_range,omitempty" validate:"omitempty,gte=0"`
}

type LedgerConfig struct {
	// Path of the sqlite ledger. Empty disables it.
	Path *string `json:"path,omitempty" yaml:"path,omitempty"`
}

type DebugConfig struct {
	HTTPAddr            *string `json:"http_addr,omitempty" yaml:"http_addr,omitempty"`
	GRPCAddr            *string `json:"grpc_addr,omitempty" yaml:"grpc_addr,omitempty"`
	RenderRangeImagePNG *bool   `json:"render_range_image_png,omitempty" yaml:"render_range_image_png,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Load reads a .json, .yaml or .yml config file. Fields omitted from the
// file keep their defaults, so partial configs are safe. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks tag constraints and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.WorldFrame != nil && *c.WorldFrame == "" {
		return errors.New("world_frame must not be empty")
	}
	if c.Input.TopicName != nil && *c.Input.TopicName == "" {
		return errors.New("input.topic_name must not be empty")
	}
	if c.Input.TopicQueueLength != nil && *c.Input.TopicQueueLength <= 0 {
		return fmt.Errorf("input.topic_queue_length must be positive, got %d", *c.Input.TopicQueueLength)
	}
	if c.Input.ProcessingRetryPeriod != nil && !(*c.Input.ProcessingRetryPeriod > 0) {
		return fmt.Errorf("input.processing_retry_period must be positive, got %g", *c.Input.ProcessingRetryPeriod)
	}
	if c.Input.MaxWaitForPose != nil && !(*c.Input.MaxWaitForPose >= 0) {
		return fmt.Errorf("input.max_wait_for_pose must be non-negative, got %g", *c.Input.MaxWaitForPose)
	}
	if c.Input.TimeOffset != nil && (math.IsNaN(*c.Input.TimeOffset) || math.IsInf(*c.Input.TimeOffset, 0)) {
		return errors.New("input.time_offset must be finite")
	}
	if c.Input.ListenAddr != nil {
		if _, _, err := net.SplitHostPort(*c.Input.ListenAddr); err != nil {
			return fmt.Errorf("invalid input.listen_addr %q: %w", *c.Input.ListenAddr, err)
		}
	}
	if c.GetRangeImageMinElevationDeg() >= c.GetRangeImageMaxElevationDeg() {
		return fmt.Errorf("range_image.min_elevation_deg (%g) must be below max_elevation_deg (%g)",
			c.GetRangeImageMinElevationDeg(), c.GetRangeImageMaxElevationDeg())
	}
	for i, st := range c.PoseHistory.StaticTransforms {
		q := st.RotationWXYZ
		if q[0]*q[0]+q[1]*q[1]+q[2]*q[2]+q[3]*q[3] == 0 {
			return fmt.Errorf("pose_history.static_transforms[%d]: rotation_wxyz must be non-zero", i)
		}
	}
	return nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

// GetWorldFrame returns world_frame or "odom".
func (c *Config) GetWorldFrame() string {
	if c.WorldFrame == nil {
		return "odom"
	}
	return *c.WorldFrame
}

func (c *Config) GetLogLevel() string {
	if c.Log.Level == nil {
		return "info"
	}
	return *c.Log.Level
}

func (c *Config) GetLogFormat() string {
	if c.Log.Format == nil {
		return "console"
	}
	return *c.Log.Format
}

func (c *Config) GetTopicName() string {
	if c.Input.TopicName == nil {
		return "livox/lidar"
	}
	return *c.Input.TopicName
}

// GetTopicType returns "livox" or "pointcloud2".
func (c *Config) GetTopicType() string {
	if c.Input.TopicType == nil {
		return "livox"
	}
	return *c.Input.TopicType
}

func (c *Config) GetTopicQueueLength() int {
	if c.Input.TopicQueueLength == nil {
		return 10
	}
	return *c.Input.TopicQueueLength
}

func (c *Config) GetProcessingRetryPeriod() time.Duration {
	if c.Input.ProcessingRetryPeriod == nil {
		return 50 * time.Millisecond
	}
	return seconds(*c.Input.ProcessingRetryPeriod)
}

func (c *Config) GetMaxWaitForPose() time.Duration {
	if c.Input.MaxWaitForPose == nil {
		return time.Second
	}
	return seconds(*c.Input.MaxWaitForPose)
}

func (c *Config) GetSensorFrameID() string {
	if c.Input.SensorFrameID == nil {
		return ""
	}
	return *c.Input.SensorFrameID
}

func (c *Config) GetTimeOffset() time.Duration {
	if c.Input.TimeOffset == nil {
		return 0
	}
	return seconds(*c.Input.TimeOffset)
}

func (c *Config) GetUndistortMotion() bool {
	if c.Input.UndistortMotion == nil {
		return false
	}
	return *c.Input.UndistortMotion
}

func (c *Config) GetReprojectedTopic() string {
	if c.Input.ReprojectedTopic == nil {
		return ""
	}
	return *c.Input.ReprojectedTopic
}

func (c *Config) GetRangeImageTopic() string {
	if c.Input.RangeImageTopic == nil {
		return ""
	}
	return *c.Input.RangeImageTopic
}

func (c *Config) GetListenAddr() string {
	if c.Input.ListenAddr == nil {
		return ":56301"
	}
	return *c.Input.ListenAddr
}

// GetListenPort returns the port of listen_addr, used to filter pcap replay.
func (c *Config) GetListenPort() int {
	_, port, err := net.SplitHostPort(c.GetListenAddr())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

func (c *Config) GetFramePeriod() time.Duration {
	if c.Input.FramePeriod == nil {
		return 100 * time.Millisecond
	}
	return seconds(*c.Input.FramePeriod)
}

func (c *Config) GetPoseRetention() time.Duration {
	if c.PoseHistory.Retention == nil {
		return 10 * time.Second
	}
	return seconds(*c.PoseHistory.Retention)
}

func (c *Config) GetNumInterpolationIntervals() int {
	if c.PoseHistory.NumInterpolationIntervals == nil {
		return 100
	}
	return *c.PoseHistory.NumInterpolationIntervals
}

func (c *Config) GetPoseFile() string {
	if c.PoseHistory.PoseFile == nil {
		return ""
	}
	return *c.PoseHistory.PoseFile
}

func (c *Config) GetPoseFileChild() string {
	if c.PoseHistory.PoseFileChild == nil {
		return "base_link"
	}
	return *c.PoseHistory.PoseFileChild
}

func (c *Config) GetRangeImageEnabled() bool {
	if c.RangeImage.Enabled == nil {
		return true
	}
	return *c.RangeImage.Enabled
}

func (c *Config) GetRangeImageWidth() int {
	if c.RangeImage.Width == nil {
		return 1024
	}
	return *c.RangeImage.Width
}

func (c *Config) GetRangeImageHeight() int {
	if c.RangeImage.Height == nil {
		return 64
	}
	return *c.RangeImage.Height
}

func (c *Config) GetRangeImageMinElevationDeg() float64 {
	if c.RangeImage.MinElevationDeg == nil {
		return -7
	}
	return *c.RangeImage.MinElevationDeg
}

func (c *Config) GetRangeImageMaxElevationDeg() float64 {
	if c.RangeImage.MaxElevationDeg == nil {
		return 52
	}
	return *c.RangeImage.MaxElevationDeg
}

func (c *Config) GetRangeImageMinRange() float64 {
	if c.RangeImage.MinRange == nil {
		return 0.1
	}
	return *c.RangeImage.MinRange
}

// GetRangeImageMaxRange returns max_range; 0 means unbounded.
func (c *Config) GetRangeImageMaxRange() float64 {
	if c.RangeImage.MaxRange == nil {
		return 0
	}
	return *c.RangeImage.MaxRange
}

func (c *Config) GetLedgerPath() string {
	if c.Ledger.Path == nil {
		return "sweeps.db"
	}
	return *c.Ledger.Path
}

func (c *Config) GetDebugHTTPAddr() string {
	if c.Debug.HTTPAddr == nil {
		return "localhost:8082"
	}
	return *c.Debug.HTTPAddr
}

func (c *Config) GetDebugGRPCAddr() string {
	if c.Debug.GRPCAddr == nil {
		return "localhost:50061"
	}
	return *c.Debug.GRPCAddr
}

func (c *Config) GetRenderRangeImagePNG() bool {
	if c.Debug.RenderRangeImagePNG == nil {
		return false
	}
	return *c.Debug.RenderRangeImagePNG
}
