package sessions

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// setTokens replaces the tokens and persists the access token. An empty
// refresh token leaves the current one in place.
func (s *Store) setTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	s.session.AccessToken = accessToken
	if refreshToken != "" {
		s.session.RefreshToken = refreshToken
	}
	s.mu.Unlock()

	if accessToken == "" {
		return errors.Wrap(s.durable.Delete(KeyAccessToken), "[Store.setTokens] delete access token")
	}
	return errors.Wrap(s.durable.Set(KeyAccessToken, accessToken), "[Store.setTokens] persist access token")
}

// setUser replaces the user wholesale and its durable snapshot.
func (s *Store) setUser(user *AuthUser) error {
	s.mu.Lock()
	s.user = user.clone()
	s.mu.Unlock()

	if user == nil {
		return errors.Wrap(s.durable.Delete(KeyUser), "[Store.setUser] delete user")
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "[Store.setUser] encode user")
	}
	return errors.Wrap(s.durable.Set(KeyUser, string(raw)), "[Store.setUser] persist user")
}

func (s *Store) setProfile(profile json.RawMessage) error {
	s.mu.Lock()
	s.profile = append(json.RawMessage(nil), profile...)
	s.mu.Unlock()

	if len(profile) == 0 {
		return errors.Wrap(s.durable.Delete(KeyProfile), "[Store.setProfile] delete profile")
	}
	return errors.Wrap(s.durable.Set(KeyProfile, string(profile)), "[Store.setProfile] persist profile")
}

func (s *Store) setInstitution(institution json.RawMessage) error {
	s.mu.Lock()
	s.institution = copyRaw(institution)
	s.mu.Unlock()

	if len(institution) == 0 {
		return errors.Wrap(s.durable.Delete(KeyInstitution), "[Store.setInstitution] delete institution")
	}
	return errors.Wrap(s.durable.Set(KeyInstitution, string(institution)), "[Store.setInstitution] persist institution")
}

// clear wipes memory and every durable key. Storage errors are logged, the
// in-memory state is always reset.
func (s *Store) clear() {
	s.mu.Lock()
	s.session = Session{}
	s.user = nil
	s.profile = nil
	s.institution = nil
	s.mu.Unlock()

	for _, key := range DurableKeys() {
		if err := s.durable.Delete(key); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("failed to remove persisted session key")
		}
	}
}

// loadSnapshot reads the durable keys. found is false unless both the
// access token and the user are present.
func (s *Store) loadSnapshot() (snap snapshot, found bool, err error) {
	token, hasToken, err := s.durable.Get(KeyAccessToken)
	if err != nil {
		return snapshot{}, false, errors.Wrap(err, "[Store.loadSnapshot] read access token")
	}
	rawUser, hasUser, err := s.durable.Get(KeyUser)
	if err != nil {
		return snapshot{}, false, errors.Wrap(err, "[Store.loadSnapshot] read user")
	}
	if !hasToken || !hasUser || token == "" {
		return snapshot{}, false, nil
	}

	var user AuthUser
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return snapshot{}, true, errors.Wrap(err, "[Store.loadSnapshot] corrupt user snapshot")
	}
	snap = snapshot{accessToken: token, user: &user}

	rawProfile, hasProfile, err := s.durable.Get(KeyProfile)
	if err != nil {
		return snapshot{}, true, errors.Wrap(err, "[Store.loadSnapshot] read profile")
	}
	if hasProfile && json.Valid([]byte(rawProfile)) {
		snap.profile = json.RawMessage(rawProfile)
	}

	rawInstitution, hasInstitution, err := s.durable.Get(KeyInstitution)
	if err != nil {
		return snapshot{}, true, errors.Wrap(err, "[Store.loadSnapshot] read institution")
	}
	if hasInstitution && json.Valid([]byte(rawInstitution)) {
		snap.institution = json.RawMessage(rawInstitution)
	}
	return snap, true, nil
}
