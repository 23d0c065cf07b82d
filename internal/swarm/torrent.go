// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/pkg/timeouts"
)

var (
	ErrMetadataTimeout = errors.New("timed out waiting for torrent metadata")
	ErrNoPeers         = errors.New("no peers serving piece")
	ErrTorrentClosed   = errors.New("torrent closed")
)

const deliveryWorkers = 4

// Config configures the swarm client.
type Config struct {
	// DataDir is the parent of the per-run scratch directory holding piece
	// data. Empty uses the system temp dir. The scratch directory is removed
	// on teardown, so nothing persists across runs.
	DataDir     string
	Connections int
	ListenPort  int
	// DownloadRateLimit in bytes per second; zero is unlimited.
	DownloadRateLimit int64
	MetadataTimeout   time.Duration
	// PieceTimeout is how long a prioritized piece may sit without peers
	// before it is reported unavailable.
	PieceTimeout time.Duration
	// UserAgent is sent to trackers and web seeds.
	UserAgent string
}

// Status is a snapshot of swarm health.
type Status struct {
	InfoHash       string `json:"infoHash"`
	Name           string `json:"name"`
	ActivePeers    int    `json:"activePeers"`
	TotalPeers     int    `json:"totalPeers"`
	BytesCompleted int64  `json:"bytesCompleted"`
	Length         int64  `json:"length"`
	PiecesComplete int    `json:"piecesComplete"`
	PieceCount     int    `json:"pieceCount"`
}

// Torrent adapts one anacrolix torrent to the stream engine contract.
type Torrent struct {
	client  *torrent.Client
	t       *torrent.Torrent
	info    *metainfo.Info
	desc    *descriptor.Descriptor
	dataDir string
	log     zerolog.Logger

	pieceTimeout time.Duration

	// prioMu serializes read-modify-write of piece priorities.
	prioMu sync.Mutex

	mu            sync.Mutex
	wanted        map[int]time.Time
	onComplete    func(int, []byte)
	onUnavailable func(int, error)
	onFailure     func(error)

	deliveries chan int
	closing    atomic.Bool
	stop       chan struct{}
	wg         sync.WaitGroup

	teardownOnce sync.Once
	teardownErr  error
}

// Open starts a client, adds src and waits for its metadata.
func Open(ctx context.Context, cfg Config, src Source) (*Torrent, error) {
	return open(ctx, cfg, src, nil)
}

// open is Open with a hook to adjust the client config before the client
// starts.
func open(ctx context.Context, cfg Config, src Source, tune func(*torrent.ClientConfig)) (*Torrent, error) {
	dataDir, err := prepareDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	ccfg := torrent.NewDefaultClientConfig()
	ccfg.DataDir = dataDir
	ccfg.Seed = false
	ccfg.NoUpload = true
	ccfg.ListenPort = cfg.ListenPort
	if cfg.UserAgent != "" {
		ccfg.HTTPUserAgent = cfg.UserAgent
	}
	if cfg.Connections > 0 {
		ccfg.EstablishedConnsPerTorrent = cfg.Connections
	}
	if cfg.DownloadRateLimit > 0 {
		burst := max(cfg.DownloadRateLimit, 256<<10)
		ccfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadRateLimit), int(burst))
	}
	if tune != nil {
		tune(ccfg)
	}

	client, err := torrent.NewClient(ccfg)
	if err != nil {
		removeDataDir(dataDir)
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	fail := func(err error) (*Torrent, error) {
		client.Close()
		removeDataDir(dataDir)
		return nil, err
	}

	t, err := addSource(ctx, client, src)
	if err != nil {
		return fail(err)
	}

	logger := log.With().Str("module", "swarm").Str("infoHash", src.Key()).Logger()
	logger.Info().Str("source", src.Kind()).Msg("Waiting for torrent metadata")

	waitCtx, cancel := timeouts.WithMetadataTimeout(ctx, cfg.MetadataTimeout)
	defer cancel()

	select {
	case <-t.GotInfo():
	case <-waitCtx.Done():
		t.Drop()
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Errorf("%w: %s", ErrMetadataTimeout, src.Key()))
		}
		return fail(waitCtx.Err())
	}

	info := t.Info()
	desc, err := descriptor.FromInfo(src.Key(), info)
	if err != nil {
		t.Drop()
		return fail(fmt.Errorf("describe torrent: %w", err))
	}

	pieceTimeout := cfg.PieceTimeout
	if pieceTimeout <= 0 {
		pieceTimeout = timeouts.DefaultPieceTimeout
	}

	tr := &Torrent{
		client:       client,
		t:            t,
		info:         info,
		desc:         desc,
		dataDir:      dataDir,
		log:          logger,
		pieceTimeout: pieceTimeout,
		wanted:       make(map[int]time.Time),
		deliveries:   make(chan int, info.NumPieces()),
		stop:         make(chan struct{}),
	}

	for range deliveryWorkers {
		tr.wg.Add(1)
		go tr.deliverLoop()
	}
	tr.wg.Add(3)
	go tr.watchPieces()
	go tr.watchStalls()
	go tr.watchClosed()

	logger.Info().
		Str("name", desc.Name).
		Int("pieces", desc.PieceCount).
		Int64("pieceLength", desc.PieceLength).
		Int("files", len(desc.Files)).
		Msg("Torrent metadata received")

	return tr, nil
}

// addSource adds src without letting a busy client block the caller forever.
func addSource(ctx context.Context, client *torrent.Client, src Source) (*torrent.Torrent, error) {
	type result struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan result, 1)

	go func() {
		var res result
		switch {
		case src.Magnet != "":
			res.t, res.err = client.AddMagnet(src.Magnet)
		case src.MetaInfo != nil:
			res.t, res.err = client.AddTorrent(src.MetaInfo)
		default:
			res.t, _ = client.AddTorrentInfoHash(src.InfoHash)
		}
		ch <- res
	}()

	timer := time.NewTimer(timeouts.AddTorrentTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("add torrent: %w", res.err)
		}
		return res.t, nil
	case <-timer.C:
		return nil, errors.New("add torrent: client busy")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Torrent) Descriptor() *descriptor.Descriptor {
	return t.desc
}

func (t *Torrent) Status() Status {
	stats := t.t.Stats()

	complete := 0
	for i := range t.desc.PieceCount {
		if t.t.PieceState(i).Complete {
			complete++
		}
	}

	return Status{
		InfoHash:       t.desc.InfoHash,
		Name:           t.desc.Name,
		ActivePeers:    stats.ActivePeers,
		TotalPeers:     stats.TotalPeers,
		BytesCompleted: t.t.BytesCompleted(),
		Length:         t.desc.TotalLength,
		PiecesComplete: complete,
		PieceCount:     t.desc.PieceCount,
	}
}

func (t *Torrent) OnPieceComplete(fn func(int, []byte)) {
	t.mu.Lock()
	t.onComplete = fn
	t.mu.Unlock()
}

func (t *Torrent) OnPieceUnavailable(fn func(int, error)) {
	t.mu.Lock()
	t.onUnavailable = fn
	t.mu.Unlock()
}

func (t *Torrent) OnFailure(fn func(error)) {
	t.mu.Lock()
	t.onFailure = fn
	t.mu.Unlock()
}

// Prioritize raises the given pieces by rank: first to Now, second to Next,
// the rest to Readahead. A piece already at a higher priority for another
// window keeps it. Pieces already on disk are read back and delivered.
func (t *Torrent) Prioritize(indices []int) {
	if t.closing.Load() {
		return
	}

	now := time.Now()
	var complete []int

	t.mu.Lock()
	for _, i := range indices {
		if i < 0 || i >= t.desc.PieceCount {
			continue
		}
		if _, ok := t.wanted[i]; !ok {
			t.wanted[i] = now
		}
	}
	t.mu.Unlock()

	t.prioMu.Lock()
	for n, i := range indices {
		if i < 0 || i >= t.desc.PieceCount {
			continue
		}
		state := t.t.PieceState(i)
		if state.Complete {
			complete = append(complete, i)
			continue
		}
		if p, ok := raise(state.Priority, n); ok {
			t.t.Piece(i).SetPriority(p)
		}
	}
	t.prioMu.Unlock()

	for _, i := range complete {
		t.enqueue(i)
	}
}

// raise returns the priority for rank and whether it is above current.
func raise(current torrent.PiecePriority, rank int) (torrent.PiecePriority, bool) {
	p := priorityFor(rank)
	return p, p > current
}

func priorityFor(rank int) torrent.PiecePriority {
	switch rank {
	case 0:
		return torrent.PiecePriorityNow
	case 1:
		return torrent.PiecePriorityNext
	default:
		return torrent.PiecePriorityReadahead
	}
}

// Deprioritize stops fetching pieces no session needs.
func (t *Torrent) Deprioritize(indices []int) {
	if t.closing.Load() {
		return
	}

	t.mu.Lock()
	for _, i := range indices {
		delete(t.wanted, i)
	}
	t.mu.Unlock()

	t.prioMu.Lock()
	defer t.prioMu.Unlock()
	for _, i := range indices {
		if i < 0 || i >= t.desc.PieceCount || t.t.PieceState(i).Complete {
			continue
		}
		t.t.Piece(i).SetPriority(torrent.PiecePriorityNone)
	}
}

// Teardown drops the torrent, closes the client and removes the scratch
// directory.
// Only the first call does any work.
func (t *Torrent) Teardown() error {
	t.teardownOnce.Do(func() {
		t.closing.Store(true)
		close(t.stop)

		t.t.Drop()
		errs := t.client.Close()
		t.wg.Wait()

		if err := os.RemoveAll(t.dataDir); err != nil {
			errs = append(errs, fmt.Errorf("remove data dir: %w", err))
		}
		t.teardownErr = errors.Join(errs...)
		t.log.Debug().Err(t.teardownErr).Msg("Swarm torn down")
	})
	return t.teardownErr
}

// enqueue schedules delivery of a completed piece that is still wanted.
func (t *Torrent) enqueue(i int) {
	t.mu.Lock()
	_, ok := t.wanted[i]
	delete(t.wanted, i)
	t.mu.Unlock()
	if !ok {
		return
	}

	select {
	case t.deliveries <- i:
	case <-t.stop:
	}
}

func (t *Torrent) deliverLoop() {
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-t.stop:
			return
		case i := <-t.deliveries:
			data, err := t.readPiece(ctx, i)
			if t.closing.Load() {
				return
			}

			t.mu.Lock()
			onComplete, onUnavailable := t.onComplete, t.onUnavailable
			t.mu.Unlock()

			if err != nil {
				t.log.Warn().Err(err).Int("piece", i).Msg("Could not read completed piece")
				if onUnavailable != nil {
					onUnavailable(i, err)
				}
				continue
			}
			if onComplete != nil {
				onComplete(i, data)
			}
		}
	}
}

func (t *Torrent) readPiece(ctx context.Context, i int) ([]byte, error) {
	p := t.info.Piece(i)
	buf := make([]byte, p.Length())

	err := retry.Do(
		func() error {
			r := t.t.NewReader()
			defer r.Close()
			r.SetReadahead(0)

			if _, err := r.Seek(p.Offset(), io.SeekStart); err != nil {
				return err
			}
			_, err := io.ReadFull(contextReader{ctx: ctx, r: r}, buf)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("read piece %d: %w", i, err)
	}
	return buf, nil
}

type contextReader struct {
	ctx context.Context
	r   torrent.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	return c.r.ReadContext(c.ctx, p)
}

func (t *Torrent) watchPieces() {
	defer t.wg.Done()

	sub := t.t.SubscribePieceStateChanges()
	defer sub.Close()

	for {
		select {
		case <-t.stop:
			return
		case change, ok := <-sub.Values:
			if !ok {
				return
			}
			if change.Complete {
				t.enqueue(change.Index)
			}
		}
	}
}

// watchStalls reports wanted pieces that have waited past the piece timeout
// while no peer is connected.
func (t *Torrent) watchStalls() {
	defer t.wg.Done()

	interval := max(t.pieceTimeout/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.t.Stats().ActivePeers > 0 {
				continue
			}

			deadline := time.Now().Add(-t.pieceTimeout)
			var stalled []int
			t.mu.Lock()
			for i, since := range t.wanted {
				if since.Before(deadline) {
					stalled = append(stalled, i)
					delete(t.wanted, i)
				}
			}
			onUnavailable := t.onUnavailable
			t.mu.Unlock()

			for _, i := range stalled {
				t.log.Warn().Int("piece", i).Dur("waited", t.pieceTimeout).Msg("No peers for piece")
				if onUnavailable != nil {
					onUnavailable(i, ErrNoPeers)
				}
			}
		}
	}
}

func (t *Torrent) watchClosed() {
	defer t.wg.Done()

	select {
	case <-t.stop:
	case <-t.t.Closed():
		if t.closing.Load() {
			return
		}
		t.log.Error().Msg("Torrent closed unexpectedly")

		t.mu.Lock()
		onFailure := t.onFailure
		t.mu.Unlock()
		if onFailure != nil {
			onFailure(ErrTorrentClosed)
		}
	}
}

// prepareDataDir creates a fresh scratch directory under parent, or under
// the system temp dir when parent is empty.
func prepareDataDir(parent string) (string, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "quistream-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func removeDataDir(dir string) {
	_ = os.RemoveAll(dir)
}
