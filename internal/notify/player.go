package notify

import (
	"context"
	"runtime"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/runner"
)

// Player makes the attention sound.
type Player interface {
	Play(ctx context.Context) error
}

// alertFunc matches beeep.Alert.
type alertFunc func(title, message string, icon any) error

// SoundPlayer plays a sound file with the platform's command-line player,
// or raises a desktop alert when no player or sound file is available. The
// choice is made on the first Play and kept for the life of the player.
type SoundPlayer struct {
	run   runner.Runner
	sound string
	goos  string
	alert alertFunc

	once   sync.Once
	method string
	play   func(ctx context.Context) error
	log    *logrus.Entry
}

// NewSoundPlayer creates a player for the sound file at path.
func NewSoundPlayer(r runner.Runner, path string) *SoundPlayer {
	return &SoundPlayer{
		run:   r,
		sound: path,
		goos:  runtime.GOOS,
		alert: beeep.Alert,
		log:   logging.NewLogger("notify"),
	}
}

func (p *SoundPlayer) Play(ctx context.Context) error {
	p.once.Do(p.resolve)
	return p.play(ctx)
}

// Method names the mechanism Play uses.
func (p *SoundPlayer) Method() string {
	p.once.Do(p.resolve)
	return p.method
}

func (p *SoundPlayer) resolve() {
	var bin string
	switch p.goos {
	case "darwin":
		bin = "afplay"
	case "linux":
		bin = "paplay"
	}

	if bin != "" && pathutil.Exists(p.sound) {
		if _, err := p.run.LookPath(bin); err == nil {
			p.method = bin
			p.play = func(ctx context.Context) error {
				res := p.run.Run(ctx, "", bin, p.sound)
				if !res.OK() {
					p.log.WithField("code", res.Code).Warn(res.ErrorText(bin + " failed"))
				}
				return nil
			}
			p.log.WithField("player", bin).Debug("sound player resolved")
			return
		}
	}

	p.method = "alert"
	p.play = func(context.Context) error {
		return p.alert("opencode", "A session needs your attention", "")
	}
	p.log.Debug("no sound player, using desktop alert")
}
