package channels

import (
	"log/slog"

	"github.com/switchyard-ai/switchyard/internal/config"
)

// Build constructs the registry from the typed channel configuration.
// Disabled channels are skipped; a misconfigured one fails construction
// so the operator sees it at startup rather than at first message.
func Build(cfg config.ChannelsConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)

	if cfg.Terminal.Enabled {
		if err := reg.Register(NewTerminalChannel(nil, nil, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(ch); err != nil {
			return nil, err
		}
	}
	if cfg.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Discord, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(ch); err != nil {
			return nil, err
		}
	}
	if cfg.Slack.Enabled {
		ch, err := NewSlackChannel(cfg.Slack, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(ch); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
