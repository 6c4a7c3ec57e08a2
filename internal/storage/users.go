package storage

import (
	"errors"
	"fmt"

	"jobchat/internal/models"
)

type handleOwner struct {
	UserID string `msgpack:"userId"`
}

// GetUser returns the directory record of userID.
func (s *BboltStorage) GetUser(userID string) (models.User, error) {
	var u models.User
	err := s.Get(UserPath(userID), &u)
	return u, err
}

// PutUser overwrites the directory record of u.ID.
func (s *BboltStorage) PutUser(u models.User) error {
	if u.ID == "" {
		return errors.New("user missing id")
	}
	return s.Set(UserPath(u.ID), u)
}

// UsersByHandle returns the users indexed under handle (zero or one).
func (s *BboltStorage) UsersByHandle(handle string) ([]models.User, error) {
	var users []models.User
	err := s.View(func(tx *Tx) error {
		var owner handleOwner
		if err := tx.Get(HandlePath(handle), &owner); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}
		var u models.User
		if err := tx.Get(UserPath(owner.UserID), &u); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// ListUsers returns all directory records.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	children, err := List[models.User](s, rootUsers)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(children))
	for _, c := range children {
		users = append(users, c.Value)
	}
	return users, nil
}

// ClaimHandle assigns handle to userID unless another user owns it.
// The previous handle of the user is released and an existing user record
// is updated in the same transaction.
func (s *BboltStorage) ClaimHandle(userID, handle string) (bool, error) {
	claimed := false
	err := s.Update(func(tx *Tx) error {
		var owner handleOwner
		err := tx.Get(HandlePath(handle), &owner)
		switch {
		case err == nil && owner.UserID != userID:
			return nil
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return err
		}

		var u models.User
		err = tx.Get(UserPath(userID), &u)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if err == nil && u.Handle != handle {
			if u.Handle != "" {
				var prev handleOwner
				if tx.Get(HandlePath(u.Handle), &prev) == nil && prev.UserID == userID {
					if err := tx.Delete(HandlePath(u.Handle)); err != nil {
						return err
					}
				}
			}
			u.Handle = handle
			if err := tx.Set(UserPath(userID), u); err != nil {
				return err
			}
		}

		if err := tx.Set(HandlePath(handle), handleOwner{UserID: userID}); err != nil {
			return fmt.Errorf("failed to index handle: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}
