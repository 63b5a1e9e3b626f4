package pushover

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatchFunc handles one downloaded batch, in order, before it is acknowledged.
type DispatchFunc func(ctx context.Context, batch []Notification)

// messageSync downloads pending notifications and acknowledges them. One
// messageSync lives for one session so its watermark guard is session scoped.
type messageSync struct {
	api     *apiClient
	log     zerolog.Logger
	onError ErrorHandler

	mu    sync.Mutex // held across the acknowledge POST
	acked Watermark  // highest watermark acknowledged this session
}

func newMessageSync(api *apiClient, logger zerolog.Logger, onError ErrorHandler) *messageSync {
	return &messageSync{api: api, log: logger, onError: onError}
}

// download fetches the device's pending notifications. On failure it reports
// the error and returns an empty batch.
func (s *messageSync) download(ctx context.Context, creds Credentials) (Watermark, []Notification) {
	if creds.DeviceID == "" {
		s.onError(newFailure(ErrMissingDeviceID, "download", "outstanding messages download skipped", nil))
		return NoWatermark, nil
	}

	body, err := s.api.get(ctx, "download", s.api.endpoint(messagesPath), url.Values{
		"secret":    {creds.Secret},
		"device_id": {creds.DeviceID},
	})
	if err == nil {
		var resp downloadResponse
		if err = decodeResponse("download", body, &resp); err == nil {
			return highestID(resp.Messages), resp.Messages
		}
	}

	s.report(err, "outstanding messages download error")
	return NoWatermark, nil
}

// acknowledge deletes every notification up to and including w on the
// service. A NoWatermark is a no-op, as is a watermark below one already
// acknowledged this session.
func (s *messageSync) acknowledge(ctx context.Context, creds Credentials, w Watermark) bool {
	if !w.Set {
		return false
	}
	if creds.DeviceID == "" {
		s.onError(newFailure(ErrMissingDeviceID, "acknowledge", "cannot delete messages", nil))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acked.Set && w.ID < s.acked.ID {
		s.log.Debug().
			Stringer("watermark", w).
			Stringer("acked", s.acked).
			Msg("skipping stale acknowledgment")
		return false
	}

	endpoint := s.api.endpoint(fmt.Sprintf(ackPathTemplate, url.PathEscape(creds.DeviceID)))
	_, err := s.api.post(ctx, "acknowledge", endpoint, url.Values{
		"secret":  {creds.Secret},
		"message": {strconv.FormatInt(w.ID, 10)},
	})
	if err != nil {
		s.report(err, "error deleting messages")
		return false
	}

	s.acked = w
	s.log.Info().Stringer("watermark", w).Msg("deleted device messages up to id")
	return true
}

// highestAcked returns the session's acknowledged watermark.
func (s *messageSync) highestAcked() Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

// cycle runs one download, dispatch, acknowledge sequence. The batch is fully
// dispatched before its watermark is acknowledged, so a crash in between
// means redelivery rather than loss.
func (s *messageSync) cycle(ctx context.Context, creds Credentials, dispatch DispatchFunc) cycleResult {
	id := uuid.New().String()
	log := s.log.With().Str("cycle", id).Logger()

	w, batch := s.download(ctx, creds)
	if !w.Set {
		log.Info().Msg("no messages downloaded")
		return cycleResult{}
	}

	log.Info().Int("count", len(batch)).Stringer("highest", w).Msg("messages downloaded")
	if dispatch != nil {
		dispatch(log.WithContext(ctx), batch)
	}

	return cycleResult{
		Downloaded: len(batch),
		Watermark:  w,
		Acked:      s.acknowledge(ctx, creds, w),
	}
}

type cycleResult struct {
	Downloaded int
	Watermark  Watermark
	Acked      bool
}

func (s *messageSync) report(err error, detail string) {
	f, ok := err.(*Failure)
	if !ok {
		f = newFailure(ErrNetwork, "sync", "", err)
	}
	if f.Detail == "" {
		f.Detail = detail
	} else {
		f.Detail = detail + ": " + f.Detail
	}
	s.onError(f)
}
