// Package session stores collaboration sessions in Redis with a local LRU
// cache in front. A session scopes shared context and a communication log to
// a fixed set of participating agents; only participants may write.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/circuitbreaker"
	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
)

const maxLogEntries = 500

// Manager handles collaboration sessions with a Redis backend.
type Manager struct {
	client       *circuitbreaker.RedisWrapper
	logger       *zap.Logger
	ttl          time.Duration
	archiveOnEnd bool
	maxSessions  int
	now          func() time.Time

	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
}

// NewManager connects to Redis and returns a session manager.
func NewManager(redisCfg config.RedisConfig, cfg config.SessionConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{
		Addr:         redisCfg.Addr(),
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxSessions := cfg.CacheSize
	if maxSessions <= 0 {
		maxSessions = 10000
	}

	return &Manager{
		client:       client,
		logger:       logger,
		ttl:          ttl,
		archiveOnEnd: cfg.ArchiveOnEnd,
		maxSessions:  maxSessions,
		now:          func() time.Time { return time.Now().UTC() },
		localCache:   make(map[string]*Session),
		cacheAccess:  make(map[string]time.Time),
	}, nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error { return m.client.Close() }

// Establish creates a collaboration session for the given participants.
func (m *Manager) Establish(ctx context.Context, name, sessionType, objective, createdBy string, participants []string) (*Session, error) {
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}

	now := m.now()
	session := &Session{
		ID:            uuid.New().String(),
		Name:          name,
		SessionType:   sessionType,
		Objective:     objective,
		CreatedBy:     createdBy,
		Participants:  append([]string(nil), participants...),
		Status:        StatusActive,
		SharedContext: make(map[string]ContextEntry),
		StartTime:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.cachePut(session)

	m.logger.Info("Collaboration session established",
		zap.String("session_id", session.ID),
		zap.String("session_type", sessionType),
		zap.Strings("participants", participants),
	)
	metrics.SessionsCreated.Inc()
	return session, nil
}

// Get retrieves a session by ID, consulting the local cache first.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	if session, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.SessionCacheHits.Inc()
		if session.IsExpired() {
			_ = m.Delete(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = m.now()
		m.mu.Unlock()
		return session, nil
	}
	m.mu.RUnlock()
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.IsExpired() {
		_ = m.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.cachePut(&session)
	return &session, nil
}

// UpdateSharedContext writes one shared-context key on behalf of a
// participant. The entry records who wrote it and when; concurrent writers
// are last-writer-wins per key.
func (m *Manager) UpdateSharedContext(ctx context.Context, sessionID, key string, value interface{}, updatedBy string) error {
	return m.mutate(ctx, sessionID, updatedBy, func(s *Session) error {
		s.SharedContext[key] = ContextEntry{
			Value:     value,
			UpdatedBy: updatedBy,
			UpdatedAt: m.now(),
		}
		return nil
	})
}

// AddMessage appends a message to the communication log on behalf of a
// participant. The log is append-only up to a retention cap.
func (m *Manager) AddMessage(ctx context.Context, sessionID, sender, message, messageType string) error {
	if messageType == "" {
		messageType = "info"
	}
	err := m.mutate(ctx, sessionID, sender, func(s *Session) error {
		s.CommunicationLog = append(s.CommunicationLog, Message{
			Timestamp: m.now(),
			Sender:    sender,
			Message:   message,
			Type:      messageType,
		})
		if len(s.CommunicationLog) > maxLogEntries {
			s.CommunicationLog = s.CommunicationLog[len(s.CommunicationLog)-maxLogEntries:]
		}
		return nil
	})
	if err == nil {
		metrics.SessionMessages.WithLabelValues(messageType).Inc()
	}
	return err
}

// ShareResource registers a shared resource id, once, and logs the share.
func (m *Manager) ShareResource(ctx context.Context, sessionID, resourceID, sharedBy string) error {
	err := m.mutate(ctx, sessionID, sharedBy, func(s *Session) error {
		for _, r := range s.SharedResources {
			if r == resourceID {
				return nil
			}
		}
		s.SharedResources = append(s.SharedResources, resourceID)
		s.CommunicationLog = append(s.CommunicationLog, Message{
			Timestamp: m.now(),
			Sender:    sharedBy,
			Message:   "Shared resource: " + resourceID,
			Type:      "resource_share",
		})
		return nil
	})
	if err == nil {
		metrics.SessionMessages.WithLabelValues("resource_share").Inc()
	}
	return err
}

// SetStatus applies a status transition: active<->paused, and cancelled from
// any non-terminal status. Completion goes through End.
func (m *Manager) SetStatus(ctx context.Context, sessionID, status string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	legal := false
	switch status {
	case StatusPaused:
		legal = session.Status == StatusActive
	case StatusActive:
		legal = session.Status == StatusPaused
	case StatusCancelled:
		legal = !session.Terminal()
	}
	if !legal {
		return fmt.Errorf("session %s: cannot move from %q to %q", sessionID, session.Status, status)
	}

	session.Status = status
	if status == StatusCancelled {
		now := m.now()
		session.EndTime = &now
	}
	session.UpdatedAt = m.now()
	return m.persist(ctx, session)
}

// End completes the session: it records who ended it, appends the closing
// log entry, archives the session under a separate key when archiving is
// enabled, and removes the live entry.
func (m *Manager) End(ctx context.Context, sessionID, endedBy string) (*Session, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Terminal() {
		return nil, fmt.Errorf("session %s already ended with status %q", sessionID, session.Status)
	}

	now := m.now()
	session.Status = StatusCompleted
	session.EndTime = &now
	session.UpdatedAt = now
	if session.Metadata == nil {
		session.Metadata = make(map[string]interface{})
	}
	session.Metadata["ended_by"] = endedBy
	session.CommunicationLog = append(session.CommunicationLog, Message{
		Timestamp: now,
		Sender:    "nexus_kamuy",
		Message:   "Session ended by " + endedBy,
		Type:      "session_end",
	})

	if m.archiveOnEnd {
		data, err := json.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session archive: %w", err)
		}
		if err := m.client.Set(ctx, archiveKey(sessionID), data, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to archive session: %w", err)
		}
	}
	if err := m.Delete(ctx, sessionID); err != nil {
		return nil, err
	}

	m.logger.Info("Collaboration session ended",
		zap.String("session_id", sessionID),
		zap.String("ended_by", endedBy),
		zap.Int("messages", len(session.CommunicationLog)),
	)
	return session, nil
}

// Archived loads an archived session snapshot.
func (m *Manager) Archived(ctx context.Context, sessionID string) (*Session, error) {
	data, err := m.client.Get(ctx, archiveKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get archived session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived session: %w", err)
	}
	return &session, nil
}

// Delete removes a session from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return nil
}

// Stats summarizes communication activity for a session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		SessionID:       sessionID,
		TotalMessages:   len(session.CommunicationLog),
		MessagesByAgent: make(map[string]int),
		MessageTypes:    make(map[string]int),
		ContextUpdates:  len(session.SharedContext),
		SharedResources: len(session.SharedResources),
	}
	end := m.now()
	if session.EndTime != nil {
		end = *session.EndTime
	}
	stats.Duration = end.Sub(session.StartTime)

	for _, msg := range session.CommunicationLog {
		stats.MessagesByAgent[msg.Sender]++
		stats.MessageTypes[msg.Type]++
	}

	// Balance is the min/max message ratio across participants; a silent
	// participant yields zero.
	minCount, maxCount := -1, 0
	for _, p := range session.Participants {
		n := stats.MessagesByAgent[p]
		if n > 0 {
			stats.ActiveParticipants++
		}
		if minCount < 0 || n < minCount {
			minCount = n
		}
		if n > maxCount {
			maxCount = n
		}
	}
	if maxCount > 0 && minCount >= 0 {
		stats.ParticipationBalance = float64(minCount) / float64(maxCount)
	}
	return stats, nil
}

// CleanupExpired removes expired live sessions. Intended to run on a ticker.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:live:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.IsExpired() {
			if err := m.Delete(ctx, session.ID); err == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// mutate loads a session, enforces the participant and active-status rules,
// applies fn, and persists the result.
func (m *Manager) mutate(ctx context.Context, sessionID, actor string, fn func(*Session) error) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusActive {
		return fmt.Errorf("%w: status is %q", ErrSessionClosed, session.Status)
	}
	if !session.HasParticipant(actor) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, actor)
	}
	if err := fn(session); err != nil {
		return err
	}
	session.UpdatedAt = m.now()
	return m.persist(ctx, session)
}

func (m *Manager) persist(ctx context.Context, session *Session) error {
	if err := m.saveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.cachePut(session)
	return nil
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, sessionKey(session.ID), data, ttl).Err()
}

func (m *Manager) cachePut(session *Session) {
	m.mu.Lock()
	m.localCache[session.ID] = session
	m.cacheAccess[session.ID] = m.now()
	m.evictLocked()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
}

// evictLocked drops the least recently accessed half of the cache once it
// outgrows the configured size.
func (m *Manager) evictLocked() {
	if len(m.localCache) <= m.maxSessions {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, accessEntry{id: id, time: m.cacheAccess[id]})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxSessions / 2
	if toRemove < 1 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}

func sessionKey(sessionID string) string { return "session:live:" + sessionID }

func archiveKey(sessionID string) string { return "session:archive:" + sessionID }
