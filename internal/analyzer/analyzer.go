package analyzer

import "math"

const (
	maxDetections   = 5 // floor(r*5) 取值 0..4, 至少 1 条
	maxStartSeconds = 90
	maxDuration     = 6
	minConfidence   = 60
	confidenceSpan  = 40
)

// Labels 候选身份标签, 顺序固定
var Labels = [8]string{
	"Unknown Speaker",
	"Host",
	"Guest",
	"Narrator",
	"Presenter",
	"Interviewer",
	"Audience Member",
	"Performer",
}

// Detection 模拟识别记录
type Detection struct {
	Label           string `json:"label"`
	StartSeconds    int    `json:"start_seconds"`
	DurationSeconds int    `json:"duration_seconds"`
	Confidence      int    `json:"confidence"`
}

// DetectionSet 按生成顺序排列的识别记录
type DetectionSet []Detection

// Analyze 根据URL生成确定性的模拟识别结果, 相同输入始终得到相同输出
func Analyze(url string) DetectionSet {
	rng := NewLCG(Seed(url))

	n := int(math.Floor(rng.Next() * maxDetections))
	if n < 1 {
		n = 1
	}

	set := make(DetectionSet, 0, n)
	for i := 0; i < n; i++ {
		// 抽取顺序: label, start, duration, confidence
		label := Labels[int(math.Floor(rng.Next()*float64(len(Labels))))]
		start := int(math.Floor(rng.Next() * maxStartSeconds))
		duration := 1 + int(math.Floor(rng.Next()*maxDuration))
		confidence := int(math.Floor(minConfidence + rng.Next()*confidenceSpan))

		set = append(set, Detection{
			Label:           label,
			StartSeconds:    start,
			DurationSeconds: duration,
			Confidence:      confidence,
		})
	}

	return set
}

// IsLabel 是否为候选标签之一
func IsLabel(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}
