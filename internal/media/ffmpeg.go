package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Extractor shells out to ffmpeg to pull a mono WAV track out of a video or
// audio file at the sample rate the transcription engine expects.
type Extractor struct {
	ffmpegPath string
	workDir    string
	sampleRate int
}

func NewExtractor(ffmpegPath, workDir string, sampleRate int) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Extractor{
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		sampleRate: sampleRate,
	}
}

// ExtractAudio writes <name>.wav into the work directory and returns its path.
func (e *Extractor) ExtractAudio(ctx context.Context, mediaPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	outPath := filepath.Join(e.workDir, base+".wav")

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", mediaPath,
		"-ar", strconv.Itoa(e.sampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v: %s", err, lastLine(output))
	}
	return outPath, nil
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
