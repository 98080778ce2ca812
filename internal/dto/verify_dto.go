package dto

import (
	"time"

	"dsuauth/internal/entity"
)

type StartRequest struct {
	UserID     string `json:"user_id" validate:"required,numeric,max=20"`
	DisplayTag string `json:"display_tag" validate:"required,max=64"`
}

type StartResponse struct {
	URL string `json:"url"`
}

type SightingRequest struct {
	UserID     string `json:"user_id" validate:"required,numeric,max=20"`
	DisplayTag string `json:"display_tag" validate:"required,max=64"`
}

type EmailCodeRequest struct {
	UserID     string `json:"user_id" validate:"required,numeric,max=20"`
	DisplayTag string `json:"display_tag" validate:"omitempty,max=64"`
	Email      string `json:"email" validate:"required,email,max=64"`
}

type EmailCodeResponse struct {
	RequestID string `json:"request_id"`
}

type EmailCodeVerifyRequest struct {
	UserID string `json:"user_id" validate:"required,numeric,max=20"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

type LabUsernameRequest struct {
	UserID   string `json:"user_id" validate:"required,numeric,max=20"`
	Username string `json:"username" validate:"required,max=64"`
}

type StatusResponse struct {
	Message string `json:"message"`
}

type UserResponse struct {
	ID             string     `json:"id"`
	DiscordTag     string     `json:"discord_tag"`
	Email          *string    `json:"email,omitempty"`
	Name           *string    `json:"name,omitempty"`
	Classification string     `json:"classification"`
	LabUsername    *string    `json:"lab_username,omitempty"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

func UserResponseFromEntity(user *entity.User) UserResponse {
	return UserResponse{
		ID:             user.ID,
		DiscordTag:     user.DiscordTag,
		Email:          user.Email,
		Name:           user.Name,
		Classification: string(user.Classification),
		LabUsername:    user.LabUsername,
		FirstSeenAt:    user.FirstSeenAt,
		VerifiedAt:     user.VerifiedAt,
	}
}

func UserResponsesFromEntities(users []entity.User) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, UserResponseFromEntity(&users[i]))
	}
	return responses
}
