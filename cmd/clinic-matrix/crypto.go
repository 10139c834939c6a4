// ABOUTME: End-to-end encryption for the clinic-matrix bridge account
// ABOUTME: Keeps one olm store per bot account under the clinic data dir and resets it for new devices

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/id"
)

// cryptoStore is the on-disk olm state of one bot account.
type cryptoStore struct {
	path string
	key  []byte
}

func newCryptoStore(dataDir string, userID id.UserID) cryptoStore {
	sum := sha256.Sum256([]byte("clinic-matrix-crypto:" + userID.String()))
	return cryptoStore{
		path: filepath.Join(dataDir, "matrix", accountSlug(userID)+".crypto.db"),
		key:  sum[:],
	}
}

// accountSlug turns @clinicbot:matrix.org into clinicbot_matrix.org.
func accountSlug(userID id.UserID) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '_'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return -1
	}, strings.TrimPrefix(userID.String(), "@"))
}

// storedDevice returns the device id the store was created for, or "" when
// there is no store yet.
func (s cryptoStore) storedDevice() (string, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var device string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&device)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return device, err
}

// resetIfStale deletes the store when it holds keys for a device other than
// current. Every password login creates a new device, so this runs at startup.
func (s cryptoStore) resetIfStale(current id.DeviceID) (bool, error) {
	stored, err := s.storedDevice()
	if err != nil || stored == "" || stored == current.String() {
		return false, err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("removing stale crypto store: %w", err)
		}
	}
	return true, nil
}

// EnableEncryption attaches an olm machine to the logged-in client so the bot
// can answer patients in encrypted rooms, then verifies the device with the
// configured recovery key. The returned closer flushes the store.
func (b *Bridge) EnableEncryption(ctx context.Context, dataDir string) (io.Closer, error) {
	store := newCryptoStore(dataDir, b.matrix.UserID)
	if err := os.MkdirAll(filepath.Dir(store.path), 0o700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	reset, err := store.resetIfStale(b.matrix.DeviceID)
	if err != nil {
		return nil, err
	}
	if reset {
		b.logger.Warn("crypto store belonged to an older device, started fresh", "path", store.path)
	}

	helper, err := cryptohelper.NewCryptoHelper(b.matrix, store.key, store.path)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	b.matrix.Crypto = helper

	// An unverified device still decrypts; patients just see a warning badge.
	machine := helper.Machine()
	if machine == nil {
		b.logger.Warn("crypto machine not initialized, device left unverified")
	} else if err := machine.VerifyWithRecoveryKey(ctx, b.config.Matrix.RecoveryKey); err != nil {
		b.logger.Warn("device verification failed", "error", err)
	} else {
		b.logger.Info("encryption enabled with verified device", "path", store.path)
	}
	return helper, nil
}
