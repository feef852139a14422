package archive

import (
	"context"
	"io"
	"io/ioutil"

	alog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"

	"github.com/ledgerwatch/tonstate/log"
)

// NewTorrentClientConfig builds the anacrolix/torrent client config used
// for archive/proof swarms: DHT-less, tracker-assisted, data rooted at
// dataDir.
func NewTorrentClientConfig(dataDir string) *torrent.ClientConfig {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.Seed = false
	cfg.NoDHT = true
	cfg.DisableTrackers = false
	cfg.Logger = cfg.Logger.FilterLevel(alog.Info)
	return cfg
}

// TorrentFetcher is a Fetcher/ProofFetcher backed by an
// anacrolix/torrent swarm: each archive slice and each key block proof
// is published as its own single-file torrent, named via a
// MagnetResolver.
type TorrentFetcher struct {
	client   *torrent.Client
	resolver MagnetResolver
	log      *log.Logger
}

// NewTorrentFetcher wraps an already-configured torrent client.
func NewTorrentFetcher(client *torrent.Client, resolver MagnetResolver) *TorrentFetcher {
	return &TorrentFetcher{client: client, resolver: resolver, log: log.New("component", "archive.torrentfetcher")}
}

// Fetch implements Fetcher.
func (f *TorrentFetcher) Fetch(ctx context.Context, seqNo uint32, exclude string) ([]byte, string, error) {
	magnet, ok := f.resolver.ResolveArchive(seqNo)
	if !ok {
		return nil, "", ErrArchiveNotFound
	}
	data, peer, err := f.fetchMagnet(ctx, magnet)
	if err != nil {
		return nil, "", err
	}
	return data, peer, nil
}

// FetchKeyBlockProof implements ProofFetcher.
func (f *TorrentFetcher) FetchKeyBlockProof(ctx context.Context, seqNo uint32) ([]byte, error) {
	magnet, ok := f.resolver.ResolveKeyBlockProof(seqNo)
	if !ok {
		return nil, ErrArchiveNotFound
	}
	data, _, err := f.fetchMagnet(ctx, magnet)
	return data, err
}

func (f *TorrentFetcher) fetchMagnet(ctx context.Context, magnet string) ([]byte, string, error) {
	t, err := f.client.AddMagnet(magnet)
	if err != nil {
		return nil, "", err
	}
	defer t.Drop()

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	t.DownloadAll()

	r := t.NewReader()
	defer r.Close()

	data, err := ioutil.ReadAll(io.LimitReader(r, t.Length()))
	if err != nil {
		return nil, "", err
	}

	var peer string
	if swarm := t.KnownSwarm(); len(swarm) > 0 {
		peer = swarm[0].Addr.String()
	}

	f.log.Debug("fetched torrent entry", "magnet", magnet, "size", len(data))
	return data, peer, nil
}
