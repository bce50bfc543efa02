package client

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Channel is one channel announced during sync
type Channel struct {
	ID     uint32
	Name   string
	Number uint32
	URL    string
}

// ChannelURL builds the htsp:// playback locator of channel id
func ChannelURL(cfg Config, id uint32) string {
	cfg = cfg.WithDefaults()
	u := url.URL{
		Scheme: "htsp",
		Host:   cfg.Address(),
		Path:   "/" + strconv.FormatUint(uint64(id), 10),
	}
	switch {
	case cfg.User != "" && cfg.Pass != "":
		u.User = url.UserPassword(cfg.User, cfg.Pass)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	return u.String()
}

// channelFromMessage extracts a Channel from a channelAdd notification.
// It reports false when the id, a non-empty name or the number is missing.
func channelFromMessage(cfg Config, m *protocol.Message) (Channel, bool) {
	id, ok := m.Uint32("channelId")
	if !ok {
		return Channel{}, false
	}
	name := m.Str("channelName")
	if name == "" {
		return Channel{}, false
	}
	number, ok := m.Uint32("channelNumber")
	if !ok {
		return Channel{}, false
	}
	return Channel{
		ID:     id,
		Name:   name,
		Number: number,
		URL:    ChannelURL(cfg, id),
	}, true
}

// syncChannels enables async metadata, collects channelAdd notifications
// until initialSyncCompleted, and publishes them by channel number.
func (s *Session) syncChannels(ctx context.Context) error {
	start := time.Now()

	reply, err := s.call(ctx, protocol.NewRequest("enableAsyncMetadata"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	if err := checkReply("enableAsyncMetadata", reply); err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}

	var (
		pending []Channel
		index   = make(map[uint32]int)
		skipped int
	)

collect:
	for {
		m, err := s.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrSync, ctx.Err())
			}
			// Whatever arrived before the stream ended is still published
			s.logger.WithError(err).Warn("channel sync ended before initialSyncCompleted")
			break
		}

		switch method := m.Method(); method {
		case "", "initialSyncCompleted":
			break collect
		case "channelAdd":
			ch, ok := channelFromMessage(s.cfg, m)
			if !ok {
				skipped++
				s.logger.WithFields(logrus.Fields{"fields": m.Len()}).Debug("skipping incomplete channelAdd")
				continue
			}
			if i, dup := index[ch.ID]; dup {
				pending[i] = ch
				continue
			}
			index[ch.ID] = len(pending)
			pending = append(pending, ch)
		default:
			s.logger.WithField("method", method).Trace("ignoring notification during sync")
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Number < pending[j].Number
	})

	for _, ch := range pending {
		if err := s.catalog.Publish(ch, CategoryChannels); err != nil {
			return fmt.Errorf("%w: publish channel %d: %w", ErrSync, ch.ID, err)
		}
		s.channels[ch.ID] = ch
	}

	s.metrics.RecordChannels(len(s.channels))
	s.metrics.ObserveSyncDuration(time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"channels": len(s.channels),
		"skipped":  skipped,
	}).Info("channel sync complete")
	return nil
}
