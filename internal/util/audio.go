package util

import (
	"encoding/json"
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// AudioInfo 存储录音探测信息
type AudioInfo struct {
	Duration float64 `json:"duration"` // 音频时长（秒）
	Codec    string  `json:"codec"`
	Size     int64   `json:"size"`
}

// CheckRecordingViability 录音最小可用性校验。
// 部分设备编码延迟会导致最终载荷偏小，因此取「客户端声明的原始分片字节数」
// 与「实际收到的编码载荷字节数」二者的较大值参与判定，避免误报 too small。
func CheckRecordingViability(declaredRawBytes, payloadBytes, minBytes, maxBytes int64) error {
	measured := payloadBytes
	if declaredRawBytes > measured {
		measured = declaredRawBytes
	}
	if measured < minBytes {
		return ErrRecordingTooSmall
	}
	if payloadBytes > maxBytes {
		return ErrRecordingTooLarge
	}
	return nil
}

// ProbeAudio 使用ffmpeg-go的Probe函数获取音频元数据
func ProbeAudio(path string) (*AudioInfo, error) {
	jsonOutput, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("获取音频信息失败: %v", err)
	}

	var result struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}

	if err := json.Unmarshal([]byte(jsonOutput), &result); err != nil {
		return nil, fmt.Errorf("解析音频信息失败: %v", err)
	}

	codec := ""
	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			codec = stream.CodecName
			break
		}
	}

	duration, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		duration = 0
	}

	size, err := strconv.ParseInt(result.Format.Size, 10, 64)
	if err != nil {
		size = 0
	}

	return &AudioInfo{
		Duration: duration,
		Codec:    codec,
		Size:     size,
	}, nil
}
