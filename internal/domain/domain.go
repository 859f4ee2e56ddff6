package domain

type Newsroom struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Role         string  `json:"role" enum:"editor,journalist,admin"`
	NewsroomID   *string `json:"newsroom_id,omitempty"`
	PasswordHash string  `json:"-"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Assignment struct {
	ID                string  `json:"id"`
	NewsroomID        string  `json:"newsroom_id"`
	PitchID           *string `json:"pitch_id,omitempty"`
	EditorID          string  `json:"editor_id"`
	JournalistID      string  `json:"journalist_id"`
	Title             string  `json:"title"`
	Brief             string  `json:"brief,omitempty"`
	Status            string  `json:"status" enum:"assigned,in_progress,submitted,revision_requested,approved,published,killed"`
	AgreedRate        int64   `json:"agreed_rate"`
	KillFeePercentage int     `json:"kill_fee_percentage"`
	MaxRevisions      int     `json:"max_revisions"`
	RevisionCount     int     `json:"revision_count"`
	RevisionNotes     *string `json:"revision_notes,omitempty"`
	Deadline          *string `json:"deadline,omitempty" format:"date-time"`
	StartedAt         *string `json:"started_at,omitempty" format:"date-time"`
	SubmittedAt       *string `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	PublishedAt       *string `json:"published_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type TimelineEvent struct {
	ID           int64  `json:"id"`
	AssignmentID string `json:"assignment_id"`
	Status       string `json:"status"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	ActorID      string `json:"actor_id"`
	Timestamp    string `json:"timestamp" format:"date-time"`
}

type Payment struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	NewsroomID   string `json:"newsroom_id"`
	JournalistID string `json:"journalist_id"`
	Type         string `json:"type" enum:"assignment,kill_fee,bonus"`
	Status       string `json:"status" enum:"pending,escrow_held,release_triggered,processing,completed,failed,refunded"`
	Amount       int64  `json:"amount"`
	PlatformFee  int64  `json:"platform_fee"`
	NetAmount    int64  `json:"net_amount"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type PitchWindow struct {
	ID                      string   `json:"id"`
	NewsroomID              string   `json:"newsroom_id"`
	Title                   string   `json:"title"`
	Beats                   []string `json:"beats,omitempty"`
	BudgetCents             int64    `json:"budget_cents"`
	MaxPitchesPerJournalist int      `json:"max_pitches_per_journalist"`
	OpensAt                 *string  `json:"opens_at,omitempty" format:"date-time"`
	ClosesAt                *string  `json:"closes_at,omitempty" format:"date-time"`
	Status                  string   `json:"status" enum:"draft,open,closed,cancelled"`
	CreatedAt               string   `json:"created_at" format:"date-time"`
	UpdatedAt               string   `json:"updated_at" format:"date-time"`
}

type Pitch struct {
	ID           string `json:"id"`
	WindowID     string `json:"window_id"`
	JournalistID string `json:"journalist_id"`
	Headline     string `json:"headline"`
	Summary      string `json:"summary,omitempty"`
	ProposedRate int64  `json:"proposed_rate"`
	Status       string `json:"status" enum:"draft,submitted,under_review,accepted,rejected,withdrawn"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type RefreshToken struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	TokenHash string  `json:"-"`
	ExpiresAt string  `json:"expires_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type WebhookSubscription struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Secret    string `json:"-"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
