package storage

import (
	"fmt"

	"jobchat/internal/auth"
	"jobchat/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertCredentials stores new or updated account credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		dbCreds := &DBCredentials{
			UserID:              credentials.UserID,
			Email:               credentials.Email,
			DisplayName:         credentials.DisplayName,
			PasswordHash:        credentials.PasswordHash,
			FailedLoginAttempts: credentials.FailedLoginAttempts,
			LastAttemptTime:     credentials.LastAttemptTime,
			CreatedAt:           credentials.CreatedAt,
		}

		data, err := dbCreds.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbCreds.Key(), data)
	})
}

// ListCredentials returns all account credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		return b.ForEach(func(k, v []byte) error {
			var dbCreds DBCredentials
			if err := dbCreds.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt credentials for %s: %w", string(k), err)
			}
			credentials = append(credentials, auth.UserCredentials{
				UserID:              dbCreds.UserID,
				Email:               dbCreds.Email,
				DisplayName:         dbCreds.DisplayName,
				PasswordHash:        dbCreds.PasswordHash,
				FailedLoginAttempts: dbCreds.FailedLoginAttempts,
				LastAttemptTime:     dbCreds.LastAttemptTime,
				CreatedAt:           dbCreds.CreatedAt,
			})
			return nil
		})
	})
	return credentials, err
}

func (s *BboltStorage) UpsertToken(session auth.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID:    session.UserID,
			TokenHash: session.TokenHash,
			ExpiresAt: session.ExpiresAt,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) ListTokens() ([]auth.Session, error) {
	var sessions []auth.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			sessions = append(sessions, auth.Session{
				UserID:    dbToken.UserID,
				TokenHash: dbToken.TokenHash,
				ExpiresAt: dbToken.ExpiresAt,
			})
			return nil
		})
	})
	return sessions, err
}

func (s *BboltStorage) UpsertFileMetadata(meta FileMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		return b.Put(meta.Key(), data)
	})
}

func (s *BboltStorage) GetFileMetadata(id string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file metadata %s: %w", id, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}
