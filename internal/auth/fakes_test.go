package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"vidtube-backend/internal/media"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type storedUser struct {
	User
	refreshHash    string
	refreshExpires time.Time
}

type fakeStore struct {
	mu            sync.Mutex
	log           *eventLog
	seq           int
	users         map[string]*storedUser
	subscriptions map[[2]string]bool
	history       map[string][]WatchedVideo
	createErr     error
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{
		log:           log,
		users:         make(map[string]*storedUser),
		subscriptions: make(map[[2]string]bool),
		history:       make(map[string][]WatchedVideo),
	}
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *fakeStore) Create(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return User{}, s.createErr
	}
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return User{}, ErrConflict
		}
	}
	s.seq++
	now := time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC)
	user.ID = fmt.Sprintf("00000000-0000-7000-8000-%012d", s.seq)
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = &storedUser{User: user}
	return user, nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user.User, nil
}

func (s *fakeStore) FindByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return user.User, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *storedUser
	for _, user := range s.users {
		if user.Email == email && (found == nil || user.CreatedAt.Before(found.CreatedAt)) {
			found = user
		}
	}
	if found == nil {
		return User{}, ErrNotFound
	}
	return found.User, nil
}

func (s *fakeStore) update(id, event string, apply func(*User)) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	apply(&user.User)
	user.UpdatedAt = user.UpdatedAt.Add(time.Second)
	if s.log != nil {
		s.log.add(event)
	}
	return user.User, nil
}

func (s *fakeStore) UpdateAccount(_ context.Context, id, fullName, email string) (User, error) {
	return s.update(id, "store.update_account", func(u *User) {
		u.FullName = fullName
		u.Email = email
	})
}

func (s *fakeStore) UpdateAvatar(_ context.Context, id, avatarURL string) (User, error) {
	return s.update(id, "store.update_avatar", func(u *User) { u.Avatar = avatarURL })
}

func (s *fakeStore) UpdateCoverImage(_ context.Context, id, coverURL string) (User, error) {
	return s.update(id, "store.update_cover", func(u *User) { u.CoverImage = coverURL })
}

func (s *fakeStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	_, err := s.update(id, "store.update_password", func(u *User) { u.PasswordHash = passwordHash })
	return err
}

func (s *fakeStore) SetRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.refreshHash = tokenHash
	user.refreshExpires = expiresAt
	return nil
}

func (s *fakeStore) ClearRefreshToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[userID]; ok {
		user.refreshHash = ""
		user.refreshExpires = time.Time{}
	}
	return nil
}

func (s *fakeStore) RefreshTokenHash(_ context.Context, userID string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return "", time.Time{}, ErrNotFound
	}
	return user.refreshHash, user.refreshExpires, nil
}

func (s *fakeStore) subscribe(subscriberID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[[2]string{subscriberID, channelID}] = true
}

func (s *fakeStore) ChannelProfile(_ context.Context, username, viewerID string) (ChannelProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username != username {
			continue
		}
		profile := ChannelProfile{PublicUser: user.Public()}
		for pair := range s.subscriptions {
			if pair[1] == user.ID {
				profile.SubscribersCount++
				if pair[0] == viewerID {
					profile.IsSubscribed = true
				}
			}
			if pair[0] == user.ID {
				profile.ChannelsSubscribedToCount++
			}
		}
		return profile, nil
	}
	return ChannelProfile{}, ErrNotFound
}

func (s *fakeStore) WatchHistory(_ context.Context, userID string) ([]WatchedVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WatchedVideo{}, s.history[userID]...), nil
}

type fakeMedia struct {
	mu       sync.Mutex
	log      *eventLog
	fail     map[string]bool
	stored   []string
	deleted  []string
	uploaded int
}

func newFakeMedia(log *eventLog) *fakeMedia {
	return &fakeMedia{log: log, fail: make(map[string]bool)}
}

func (m *fakeMedia) Store(_ context.Context, localPath string) *media.Asset {
	if localPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded++
	if m.fail[filepath.Ext(localPath)] {
		return nil
	}
	url := fmt.Sprintf("https://res.cloudinary.com/demo/image/upload/v1/asset%d%s", m.uploaded, filepath.Ext(localPath))
	m.stored = append(m.stored, url)
	if m.log != nil {
		m.log.add("media.store")
	}
	return &media.Asset{URL: url}
}

func (m *fakeMedia) Delete(_ context.Context, assetURL string) {
	if assetURL == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, assetURL)
	if m.log != nil {
		m.log.add("media.delete:" + assetURL)
	}
}

func (m *fakeMedia) deletedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
