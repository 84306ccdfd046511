package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a dashboard user
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	IsAdmin   bool      `json:"is_admin" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// FileStatus tracks catalog visibility of an uploaded file
type FileStatus string

const (
	FileActive  FileStatus = "ACTIVE"
	FileDeleted FileStatus = "DELETED"
)

// UploadedFile is the catalog record for a fully assembled artifact
type UploadedFile struct {
	ID               uuid.UUID  `json:"id" gorm:"primaryKey"`
	OriginalFilename string     `json:"filename" gorm:"not null"`
	StoredFilename   string     `json:"stored_filename" gorm:"not null"`
	Category         string     `json:"category" gorm:"not null"` // SERVER, CLIENT, OTHER
	Size             int64      `json:"size"`
	Checksum         string     `json:"checksum" gorm:"index"`
	StoragePath      string     `json:"-" gorm:"not null"`
	ContentCount     int        `json:"content_count"`
	UploadedBy       uuid.UUID  `json:"uploaded_by"`
	Status           FileStatus `json:"status" gorm:"default:ACTIVE"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Uploader         User       `json:"uploader" gorm:"foreignKey:UploadedBy"`
}

// BeforeCreate generates a UUID for the file ID
func (f *UploadedFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// CrashReport is one crash submitted by a remote game client
type CrashReport struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	PlayerName  string    `json:"player_name" gorm:"index;not null"`
	GameVersion string    `json:"game_version"`
	Category    string    `json:"category" gorm:"index"` // SERVER, CLIENT
	Exception   string    `json:"exception"`
	StackTrace  string    `json:"stack_trace"`
	Comment     string    `json:"comment"`
	Fixed       bool      `json:"fixed" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the crash report ID
func (c *CrashReport) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// GameLog is one gameplay event pushed by a game server. The payload is the
// raw JSON document as sent; player and type are promoted to columns so the
// dashboard can filter without unpacking it.
type GameLog struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey"`
	PlayerName string    `json:"player_name" gorm:"index"`
	Type       string    `json:"type" gorm:"index"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// BeforeCreate generates a UUID for the log ID
func (l *GameLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// LogFilter for searching game logs
type LogFilter struct {
	PlayerName string     `json:"player_name"`
	Type       string     `json:"type"`
	From       *time.Time `json:"from"`
	To         *time.Time `json:"to"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// LogStats aggregates game log counts
type LogStats struct {
	Total         int64        `json:"total"`
	UniquePlayers int64        `json:"unique_players"`
	ByType        []LogTypeRow `json:"by_type"`
}

// LogTypeRow is one row of the per-type log aggregate
type LogTypeRow struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// CrashFilter for searching crash reports
type CrashFilter struct {
	PlayerName string `json:"player_name"`
	Category   string `json:"category"`
	Fixed      *bool  `json:"fixed"`
	MinVersion string `json:"min_version"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// CrashStats aggregates crash report counts
type CrashStats struct {
	Total       int64            `json:"total"`
	Fixed       int64            `json:"fixed"`
	ServerCount int64            `json:"server_count"`
	ClientCount int64            `json:"client_count"`
	TopPlayers  []PlayerCrashRow `json:"top_players"`
}

// PlayerCrashRow is one row of the top-crashing-players aggregate
type PlayerCrashRow struct {
	PlayerName string `json:"player_name"`
	Count      int64  `json:"count"`
}

// FileStats aggregates uploaded file counts
type FileStats struct {
	TotalFiles  int64 `json:"total_files"`
	ServerFiles int64 `json:"server_files"`
	ClientFiles int64 `json:"client_files"`
}

// StartUploadResponse is returned when an upload session is created
type StartUploadResponse struct {
	SessionID string `json:"session_id"`
	ChunkSize int64  `json:"chunk_size"`
	MaxChunks int    `json:"max_chunks"`
	Status    string `json:"status"`
}

// ChunkResponse is returned for every chunk receipt
type ChunkResponse struct {
	SessionID     string        `json:"session_id"`
	ChunkIndex    int           `json:"chunk_index"`
	ReceivedBytes int64         `json:"received_bytes"`
	Status        string        `json:"status"` // CHUNK_RECEIVED, COMPLETED, ERROR
	Progress      int           `json:"progress"`
	File          *UploadedFile `json:"file,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// UploadProgress is the poll response for a session
type UploadProgress struct {
	SessionID      string        `json:"session_id"`
	Filename       string        `json:"filename"`
	UploadedBytes  int64         `json:"uploaded_bytes"`
	TotalBytes     int64         `json:"total_bytes"`
	ChunksReceived int           `json:"chunks_received"`
	TotalChunks    int           `json:"total_chunks"`
	Progress       int           `json:"progress"`
	Status         string        `json:"status"`
	File           *UploadedFile `json:"file,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// CreateUserRequest is an admin request to provision an account
type CreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	IsAdmin  bool   `json:"is_admin"`
	IsActive bool   `json:"is_active"`
}

// UpdateUserRequest is an admin request to change an account. Nil fields are
// left untouched.
type UpdateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	IsAdmin  *bool   `json:"is_admin"`
	IsActive *bool   `json:"is_active"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	APIResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}
