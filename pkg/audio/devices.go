package audio

import (
	"strconv"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

// CaptureDevice describes one capture-capable audio device.
type CaptureDevice struct {
	Index       int
	Name        string
	MaxChannels int
	IsDefault   bool

	id malgo.DeviceID
}

// Device name keywords used by the auto-selection heuristic. Known capture
// hardware outranks generic microphone names, which outrank any input device.
var (
	highPriorityKeywords = []string{
		"seeed", "voicecard", "respeaker", "audioinjector", "usb",
	}
	mediumPriorityKeywords = []string{
		"mic", "microphone", "microfone", "capture", "input",
	}
	outputKeywords = []string{
		"output", "speaker", "monitor", "loopback", "headphone",
		"hdmi", "spdif", "line out",
	}
)

// scoreDevice ranks a device for automatic selection. Higher is better.
func scoreDevice(dev CaptureDevice) int {
	score := 0
	name := strings.ToLower(dev.Name)

	for _, kw := range highPriorityKeywords {
		if strings.Contains(name, kw) {
			score += 50
		}
	}

	for _, kw := range mediumPriorityKeywords {
		if strings.Contains(name, kw) {
			score += 30
		}
	}

	if dev.MaxChannels > 0 {
		score += 10
	}

	channels := dev.MaxChannels
	if channels > 2 {
		channels = 2
	}
	score += channels * 5

	for _, kw := range outputKeywords {
		if strings.Contains(name, kw) {
			score -= 20
		}
	}

	return score
}

// enumerateCaptureDevices lists the capture-capable devices known to the
// audio backend.
func enumerateCaptureDevices(ctx *malgo.AllocatedContext, logger *logrus.Logger) ([]CaptureDevice, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate capture devices")
	}

	devices := make([]CaptureDevice, 0, len(infos))
	for i, info := range infos {
		dev := CaptureDevice{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			id:        info.ID,
		}
		for _, format := range info.Formats {
			if int(format.Channels) > dev.MaxChannels {
				dev.MaxChannels = int(format.Channels)
			}
		}
		devices = append(devices, dev)
	}

	logger.WithField("device_count", len(devices)).Debug("Enumerated audio capture devices")
	return devices, nil
}

// resolveDevice turns the configured selector into an ordered candidate list.
// The selector is "auto", a numeric device index, or a (partial) device name.
// In auto mode the list is all devices sorted by heuristic score so the
// caller can retry against the next-best candidate when a probe fails.
func resolveDevice(selector string, devices []CaptureDevice, logger *logrus.Logger) ([]CaptureDevice, error) {
	if len(devices) == 0 {
		return nil, errors.NewNoInputDevice("no capture devices reported by the audio backend")
	}

	if selector != "auto" {
		if idx, err := strconv.Atoi(selector); err == nil {
			if idx < 0 || idx >= len(devices) {
				return nil, errors.NewNoInputDevice("configured device index out of range",
					map[string]interface{}{"index": idx, "device_count": len(devices)})
			}
			logger.WithFields(logrus.Fields{
				"index": idx,
				"name":  devices[idx].Name,
			}).Info("Using audio device configured by index")
			return []CaptureDevice{devices[idx]}, nil
		}

		lowered := strings.ToLower(selector)
		for _, dev := range devices {
			if strings.Contains(strings.ToLower(dev.Name), lowered) {
				logger.WithFields(logrus.Fields{
					"selector": selector,
					"name":     dev.Name,
					"index":    dev.Index,
				}).Info("Found audio device by name")
				return []CaptureDevice{dev}, nil
			}
		}

		logger.WithField("selector", selector).Warn("Configured device not found, falling back to auto detection")
	}

	// Auto mode: every device, best score first.
	candidates := make([]CaptureDevice, len(devices))
	copy(candidates, devices)
	sortByScore(candidates)

	best := candidates[0]
	logger.WithFields(logrus.Fields{
		"name":  best.Name,
		"index": best.Index,
		"score": scoreDevice(best),
	}).Info("Auto-detected audio capture device")

	return candidates, nil
}

// sortByScore orders devices best-first. Insertion sort; device lists are tiny.
func sortByScore(devices []CaptureDevice) {
	for i := 1; i < len(devices); i++ {
		for j := i; j > 0 && scoreDevice(devices[j]) > scoreDevice(devices[j-1]); j-- {
			devices[j], devices[j-1] = devices[j-1], devices[j]
		}
	}
}
