// ABOUTME: Frame kind enums and typed payloads for the claw-gateway wire protocol.
// ABOUTME: Kind numbers are the wire contract and are never renumbered.

package protocol

import "fmt"

// ClientKind identifies a client→server frame. Values are stable wire
// constants; new kinds append, existing kinds never renumber.
type ClientKind uint8

const (
	KindAuthResponse            ClientKind = 0
	KindUnlockVault             ClientKind = 1
	KindSecretsList             ClientKind = 2
	KindSecretsGet              ClientKind = 3
	KindSecretsStore            ClientKind = 4
	KindSecretsDelete           ClientKind = 5
	KindSecretsPeek             ClientKind = 6
	KindSecretsSetPolicy        ClientKind = 7
	KindSecretsSetDisabled      ClientKind = 8
	KindSecretsDeleteCredential ClientKind = 9
	KindSecretsHasTotp          ClientKind = 10
	KindSecretsSetupTotp        ClientKind = 11
	KindSecretsVerifyTotp       ClientKind = 12
	KindSecretsRemoveTotp       ClientKind = 13
	KindReload                  ClientKind = 14
	KindCancel                  ClientKind = 15
	KindChat                    ClientKind = 16
	KindToolApprovalResponse    ClientKind = 17
	KindUserPromptResponse      ClientKind = 18
	KindTasksRequest            ClientKind = 19
	KindThreadCreate            ClientKind = 20
	KindThreadSwitch            ClientKind = 21
	KindThreadList              ClientKind = 22
	KindThreadClose             ClientKind = 23
	KindThreadRename            ClientKind = 24
)

// ServerKind identifies a server→client frame.
type ServerKind uint8

const (
	KindAuthChallenge                 ServerKind = 0
	KindAuthResult                    ServerKind = 1
	KindAuthLocked                    ServerKind = 2
	KindHello                         ServerKind = 3
	KindStatus                        ServerKind = 4
	KindVaultUnlocked                 ServerKind = 5
	KindSecretsListResult             ServerKind = 6
	KindSecretsStoreResult            ServerKind = 7
	KindSecretsGetResult              ServerKind = 8
	KindSecretsDeleteResult           ServerKind = 9
	KindSecretsPeekResult             ServerKind = 10
	KindSecretsSetPolicyResult        ServerKind = 11
	KindSecretsSetDisabledResult      ServerKind = 12
	KindSecretsDeleteCredentialResult ServerKind = 13
	KindSecretsHasTotpResult          ServerKind = 14
	KindSecretsSetupTotpResult        ServerKind = 15
	KindSecretsVerifyTotpResult       ServerKind = 16
	KindSecretsRemoveTotpResult       ServerKind = 17
	KindReloadResult                  ServerKind = 18
	KindError                         ServerKind = 19
	KindInfo                          ServerKind = 20
	KindStreamStart                   ServerKind = 21
	KindChunk                         ServerKind = 22
	KindThinkingStart                 ServerKind = 23
	KindThinkingDelta                 ServerKind = 24
	KindThinkingEnd                   ServerKind = 25
	KindToolCall                      ServerKind = 26
	KindToolResult                    ServerKind = 27
	KindResponseDone                  ServerKind = 28
	KindToolApprovalRequest           ServerKind = 29
	KindUserPromptRequest             ServerKind = 30
	KindTasksUpdate                   ServerKind = 31
	KindThreadsUpdate                 ServerKind = 32
	KindThreadCreated                 ServerKind = 33
	KindThreadSwitched                ServerKind = 34
)

// StatusType is the sub-type carried by a Status frame.
type StatusType uint8

const (
	StatusModelConfigured    StatusType = 0
	StatusCredentialsLoaded  StatusType = 1
	StatusCredentialsMissing StatusType = 2
	StatusModelConnecting    StatusType = 3
	StatusModelReady         StatusType = 4
	StatusModelError         StatusType = 5
	StatusNoModel            StatusType = 6
	StatusVaultLocked        StatusType = 7
)

// MediaRef is a reference to a media attachment. Media bytes are never
// inlined in conversation frames; the client fetches them separately.
type MediaRef struct {
	ID       string `cbor:"id"`
	MimeType string `cbor:"mime_type"`
	Filename string `cbor:"filename,omitempty"`
	Size     uint64 `cbor:"size,omitempty"`
	URL      string `cbor:"url,omitempty"`
}

// SecretEntry describes a vault entry in list results. Values are never
// included.
type SecretEntry struct {
	Name     string `cbor:"name"`
	Label    string `cbor:"label"`
	Kind     string `cbor:"kind"`
	Policy   string `cbor:"policy"`
	Disabled bool   `cbor:"disabled"`
}

// PeekField is one masked field of a peeked credential.
type PeekField struct {
	Name  string `cbor:"name"`
	Value string `cbor:"value"`
}

// TaskInfo is the task summary pushed in TasksUpdate frames.
type TaskInfo struct {
	ID           uint64 `cbor:"id"`
	Label        string `cbor:"label"`
	Description  string `cbor:"description,omitempty"`
	Status       string `cbor:"status"`
	IsForeground bool   `cbor:"is_foreground"`
}

// ThreadInfo is the thread summary pushed in ThreadsUpdate frames.
type ThreadInfo struct {
	ID           uint64 `cbor:"id"`
	Label        string `cbor:"label"`
	Description  string `cbor:"description,omitempty"`
	Status       string `cbor:"status,omitempty"`
	IsForeground bool   `cbor:"is_foreground"`
	MessageCount int    `cbor:"message_count"`
	HasSummary   bool   `cbor:"has_summary"`
}

// ClientPayload is implemented by every client frame payload type. The
// clientKind method pins each payload shape to exactly one kind number.
type ClientPayload interface {
	clientKind() ClientKind
}

// ServerPayload is implemented by every server frame payload type.
type ServerPayload interface {
	serverKind() ServerKind
}

// ClientFrame is one decoded client→server protocol message.
type ClientFrame struct {
	Kind    ClientKind
	Payload ClientPayload
}

// ServerFrame is one server→client protocol message.
type ServerFrame struct {
	Kind    ServerKind
	Payload ServerPayload
}

// NewClientFrame wraps a payload in a frame with its canonical kind.
func NewClientFrame(p ClientPayload) ClientFrame {
	return ClientFrame{Kind: p.clientKind(), Payload: p}
}

// NewServerFrame wraps a payload in a frame with its canonical kind.
func NewServerFrame(p ServerPayload) ServerFrame {
	return ServerFrame{Kind: p.serverKind(), Payload: p}
}

// ── Client payloads ─────────────────────────────────────────────────────────

// AuthResponse carries the TOTP code answering an AuthChallenge.
type AuthResponse struct {
	Code string `cbor:"code"`
}

// UnlockVault carries the vault password.
type UnlockVault struct {
	Password string `cbor:"password"`
}

type SecretsList struct{}

type SecretsGet struct {
	Name string `cbor:"name"`
}

type SecretsStore struct {
	Name   string `cbor:"name"`
	Value  string `cbor:"value"`
	Policy string `cbor:"policy,omitempty"`
}

type SecretsDelete struct {
	Name string `cbor:"name"`
}

type SecretsPeek struct {
	Name string `cbor:"name"`
}

type SecretsSetPolicy struct {
	Name   string   `cbor:"name"`
	Policy string   `cbor:"policy"`
	Skills []string `cbor:"skills,omitempty"`
}

type SecretsSetDisabled struct {
	Name     string `cbor:"name"`
	Disabled bool   `cbor:"disabled"`
}

type SecretsDeleteCredential struct {
	Name string `cbor:"name"`
}

type SecretsHasTotp struct{}

type SecretsSetupTotp struct{}

type SecretsVerifyTotp struct {
	Code string `cbor:"code"`
}

type SecretsRemoveTotp struct{}

// Reload asks the gateway to re-resolve its provider configuration.
type Reload struct{}

// Cancel aborts the unit of work running for a thread. ThreadID 0 means
// the current foreground thread.
type Cancel struct {
	ThreadID uint64 `cbor:"thread_id,omitempty"`
}

// Chat is a user message for the foreground thread.
type Chat struct {
	Text  string     `cbor:"text"`
	Media []MediaRef `cbor:"media,omitempty"`
}

type ToolApprovalResponse struct {
	ID       string `cbor:"id"`
	Approved bool   `cbor:"approved"`
}

type UserPromptResponse struct {
	ID        string `cbor:"id"`
	Dismissed bool   `cbor:"dismissed"`
	Value     string `cbor:"value"`
}

// TasksRequest asks for the current task list, optionally filtered to one
// session.
type TasksRequest struct {
	Session string `cbor:"session,omitempty"`
}

type ThreadCreate struct {
	Label string `cbor:"label"`
}

type ThreadSwitch struct {
	ThreadID uint64 `cbor:"thread_id"`
}

type ThreadList struct{}

type ThreadClose struct {
	ThreadID uint64 `cbor:"thread_id"`
}

type ThreadRename struct {
	ThreadID uint64 `cbor:"thread_id"`
	NewLabel string `cbor:"new_label"`
}

func (AuthResponse) clientKind() ClientKind            { return KindAuthResponse }
func (UnlockVault) clientKind() ClientKind             { return KindUnlockVault }
func (SecretsList) clientKind() ClientKind             { return KindSecretsList }
func (SecretsGet) clientKind() ClientKind              { return KindSecretsGet }
func (SecretsStore) clientKind() ClientKind            { return KindSecretsStore }
func (SecretsDelete) clientKind() ClientKind           { return KindSecretsDelete }
func (SecretsPeek) clientKind() ClientKind             { return KindSecretsPeek }
func (SecretsSetPolicy) clientKind() ClientKind        { return KindSecretsSetPolicy }
func (SecretsSetDisabled) clientKind() ClientKind      { return KindSecretsSetDisabled }
func (SecretsDeleteCredential) clientKind() ClientKind { return KindSecretsDeleteCredential }
func (SecretsHasTotp) clientKind() ClientKind          { return KindSecretsHasTotp }
func (SecretsSetupTotp) clientKind() ClientKind        { return KindSecretsSetupTotp }
func (SecretsVerifyTotp) clientKind() ClientKind       { return KindSecretsVerifyTotp }
func (SecretsRemoveTotp) clientKind() ClientKind       { return KindSecretsRemoveTotp }
func (Reload) clientKind() ClientKind                  { return KindReload }
func (Cancel) clientKind() ClientKind                  { return KindCancel }
func (Chat) clientKind() ClientKind                    { return KindChat }
func (ToolApprovalResponse) clientKind() ClientKind    { return KindToolApprovalResponse }
func (UserPromptResponse) clientKind() ClientKind      { return KindUserPromptResponse }
func (TasksRequest) clientKind() ClientKind            { return KindTasksRequest }
func (ThreadCreate) clientKind() ClientKind            { return KindThreadCreate }
func (ThreadSwitch) clientKind() ClientKind            { return KindThreadSwitch }
func (ThreadList) clientKind() ClientKind              { return KindThreadList }
func (ThreadClose) clientKind() ClientKind             { return KindThreadClose }
func (ThreadRename) clientKind() ClientKind            { return KindThreadRename }

// ── Server payloads ─────────────────────────────────────────────────────────

// AuthChallenge tells the client which second factor to answer with.
type AuthChallenge struct {
	Method string `cbor:"method"`
}

// AuthResult reports the outcome of an AuthResponse. Token is a session
// bearer token issued on success, accepted by the HTTP API.
type AuthResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
	Token   string `cbor:"token,omitempty"`
	Retry   bool   `cbor:"retry,omitempty"`
}

// AuthLocked reports that further auth attempts are rejected until
// RetryAfterSecs elapses.
type AuthLocked struct {
	Message       string `cbor:"message"`
	RetryAfterSecs uint64 `cbor:"retry_after,omitempty"`
}

// Hello is the first frame on every connection.
type Hello struct {
	Agent       string `cbor:"agent"`
	SettingsDir string `cbor:"settings_dir"`
	VaultLocked bool   `cbor:"vault_locked"`
	Provider    string `cbor:"provider,omitempty"`
	Model       string `cbor:"model,omitempty"`
}

type Status struct {
	Status StatusType `cbor:"status"`
	Detail string     `cbor:"detail"`
}

type VaultUnlocked struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsListResult struct {
	OK      bool          `cbor:"ok"`
	Entries []SecretEntry `cbor:"entries"`
}

type SecretsStoreResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message"`
}

type SecretsGetResult struct {
	OK      bool   `cbor:"ok"`
	Name    string `cbor:"name"`
	Value   string `cbor:"value,omitempty"`
	Message string `cbor:"message,omitempty"`
}

type SecretsDeleteResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsPeekResult struct {
	OK      bool        `cbor:"ok"`
	Fields  []PeekField `cbor:"fields"`
	Message string      `cbor:"message,omitempty"`
}

type SecretsSetPolicyResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsSetDisabledResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsDeleteCredentialResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsHasTotpResult struct {
	HasTotp bool `cbor:"has_totp"`
}

type SecretsSetupTotpResult struct {
	OK      bool   `cbor:"ok"`
	URI     string `cbor:"uri,omitempty"`
	Message string `cbor:"message,omitempty"`
}

type SecretsVerifyTotpResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type SecretsRemoveTotpResult struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

type ReloadResult struct {
	OK       bool   `cbor:"ok"`
	Provider string `cbor:"provider"`
	Model    string `cbor:"model"`
	Message  string `cbor:"message,omitempty"`
}

// Error is the generic rejection frame. Every rejected action gets one;
// it is never a silent drop.
type ErrorFrame struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message"`
}

type Info struct {
	Message string `cbor:"message"`
}

type StreamStart struct{}

type Chunk struct {
	Delta string `cbor:"delta"`
}

type ThinkingStart struct{}

type ThinkingDelta struct {
	Delta string `cbor:"delta"`
}

type ThinkingEnd struct{}

type ToolCall struct {
	ID        string `cbor:"id"`
	Name      string `cbor:"name"`
	Arguments string `cbor:"arguments"`
}

type ToolResult struct {
	ID      string `cbor:"id"`
	Name    string `cbor:"name"`
	Result  string `cbor:"result"`
	IsError bool   `cbor:"is_error"`
}

type ResponseDone struct {
	OK bool `cbor:"ok"`
}

type ToolApprovalRequest struct {
	ID        string `cbor:"id"`
	Name      string `cbor:"name"`
	Arguments string `cbor:"arguments"`
}

type UserPromptRequest struct {
	ID          string `cbor:"id"`
	Title       string `cbor:"title"`
	Description string `cbor:"description,omitempty"`
	Placeholder string `cbor:"placeholder,omitempty"`
}

type TasksUpdate struct {
	Tasks []TaskInfo `cbor:"tasks"`
}

type ThreadsUpdate struct {
	Threads      []ThreadInfo `cbor:"threads"`
	ForegroundID uint64       `cbor:"foreground_id,omitempty"`
}

type ThreadCreated struct {
	ThreadID uint64 `cbor:"thread_id"`
	Label    string `cbor:"label"`
}

type ThreadSwitched struct {
	ThreadID       uint64 `cbor:"thread_id"`
	ContextSummary string `cbor:"context_summary,omitempty"`
}

func (AuthChallenge) serverKind() ServerKind                 { return KindAuthChallenge }
func (AuthResult) serverKind() ServerKind                    { return KindAuthResult }
func (AuthLocked) serverKind() ServerKind                    { return KindAuthLocked }
func (Hello) serverKind() ServerKind                         { return KindHello }
func (Status) serverKind() ServerKind                        { return KindStatus }
func (VaultUnlocked) serverKind() ServerKind                 { return KindVaultUnlocked }
func (SecretsListResult) serverKind() ServerKind             { return KindSecretsListResult }
func (SecretsStoreResult) serverKind() ServerKind            { return KindSecretsStoreResult }
func (SecretsGetResult) serverKind() ServerKind              { return KindSecretsGetResult }
func (SecretsDeleteResult) serverKind() ServerKind           { return KindSecretsDeleteResult }
func (SecretsPeekResult) serverKind() ServerKind             { return KindSecretsPeekResult }
func (SecretsSetPolicyResult) serverKind() ServerKind        { return KindSecretsSetPolicyResult }
func (SecretsSetDisabledResult) serverKind() ServerKind      { return KindSecretsSetDisabledResult }
func (SecretsDeleteCredentialResult) serverKind() ServerKind { return KindSecretsDeleteCredentialResult }
func (SecretsHasTotpResult) serverKind() ServerKind          { return KindSecretsHasTotpResult }
func (SecretsSetupTotpResult) serverKind() ServerKind        { return KindSecretsSetupTotpResult }
func (SecretsVerifyTotpResult) serverKind() ServerKind       { return KindSecretsVerifyTotpResult }
func (SecretsRemoveTotpResult) serverKind() ServerKind       { return KindSecretsRemoveTotpResult }
func (ReloadResult) serverKind() ServerKind                  { return KindReloadResult }
func (ErrorFrame) serverKind() ServerKind                    { return KindError }
func (Info) serverKind() ServerKind                          { return KindInfo }
func (StreamStart) serverKind() ServerKind                   { return KindStreamStart }
func (Chunk) serverKind() ServerKind                         { return KindChunk }
func (ThinkingStart) serverKind() ServerKind                 { return KindThinkingStart }
func (ThinkingDelta) serverKind() ServerKind                 { return KindThinkingDelta }
func (ThinkingEnd) serverKind() ServerKind                   { return KindThinkingEnd }
func (ToolCall) serverKind() ServerKind                      { return KindToolCall }
func (ToolResult) serverKind() ServerKind                    { return KindToolResult }
func (ResponseDone) serverKind() ServerKind                  { return KindResponseDone }
func (ToolApprovalRequest) serverKind() ServerKind           { return KindToolApprovalRequest }
func (UserPromptRequest) serverKind() ServerKind             { return KindUserPromptRequest }
func (TasksUpdate) serverKind() ServerKind                   { return KindTasksUpdate }
func (ThreadsUpdate) serverKind() ServerKind                 { return KindThreadsUpdate }
func (ThreadCreated) serverKind() ServerKind                 { return KindThreadCreated }
func (ThreadSwitched) serverKind() ServerKind                { return KindThreadSwitched }

// String returns the frame kind name for logging.
func (k ClientKind) String() string {
	if name, ok := clientKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ClientKind(%d)", uint8(k))
}

func (k ServerKind) String() string {
	if name, ok := serverKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ServerKind(%d)", uint8(k))
}

var clientKindNames = map[ClientKind]string{
	KindAuthResponse:            "auth_response",
	KindUnlockVault:             "unlock_vault",
	KindSecretsList:             "secrets_list",
	KindSecretsGet:              "secrets_get",
	KindSecretsStore:            "secrets_store",
	KindSecretsDelete:           "secrets_delete",
	KindSecretsPeek:             "secrets_peek",
	KindSecretsSetPolicy:        "secrets_set_policy",
	KindSecretsSetDisabled:      "secrets_set_disabled",
	KindSecretsDeleteCredential: "secrets_delete_credential",
	KindSecretsHasTotp:          "secrets_has_totp",
	KindSecretsSetupTotp:        "secrets_setup_totp",
	KindSecretsVerifyTotp:       "secrets_verify_totp",
	KindSecretsRemoveTotp:       "secrets_remove_totp",
	KindReload:                  "reload",
	KindCancel:                  "cancel",
	KindChat:                    "chat",
	KindToolApprovalResponse:    "tool_approval_response",
	KindUserPromptResponse:      "user_prompt_response",
	KindTasksRequest:            "tasks_request",
	KindThreadCreate:            "thread_create",
	KindThreadSwitch:            "thread_switch",
	KindThreadList:              "thread_list",
	KindThreadClose:             "thread_close",
	KindThreadRename:            "thread_rename",
}

var serverKindNames = map[ServerKind]string{
	KindAuthChallenge:                 "auth_challenge",
	KindAuthResult:                    "auth_result",
	KindAuthLocked:                    "auth_locked",
	KindHello:                         "hello",
	KindStatus:                        "status",
	KindVaultUnlocked:                 "vault_unlocked",
	KindSecretsListResult:             "secrets_list_result",
	KindSecretsStoreResult:            "secrets_store_result",
	KindSecretsGetResult:              "secrets_get_result",
	KindSecretsDeleteResult:           "secrets_delete_result",
	KindSecretsPeekResult:             "secrets_peek_result",
	KindSecretsSetPolicyResult:        "secrets_set_policy_result",
	KindSecretsSetDisabledResult:      "secrets_set_disabled_result",
	KindSecretsDeleteCredentialResult: "secrets_delete_credential_result",
	KindSecretsHasTotpResult:          "secrets_has_totp_result",
	KindSecretsSetupTotpResult:        "secrets_setup_totp_result",
	KindSecretsVerifyTotpResult:       "secrets_verify_totp_result",
	KindSecretsRemoveTotpResult:       "secrets_remove_totp_result",
	KindReloadResult:                  "reload_result",
	KindError:                         "error",
	KindInfo:                          "info",
	KindStreamStart:                   "stream_start",
	KindChunk:                         "chunk",
	KindThinkingStart:                 "thinking_start",
	KindThinkingDelta:                 "thinking_delta",
	KindThinkingEnd:                   "thinking_end",
	KindToolCall:                      "tool_call",
	KindToolResult:                    "tool_result",
	KindResponseDone:                  "response_done",
	KindToolApprovalRequest:           "tool_approval_request",
	KindUserPromptRequest:             "user_prompt_request",
	KindTasksUpdate:                   "tasks_update",
	KindThreadsUpdate:                 "threads_update",
	KindThreadCreated:                 "thread_created",
	KindThreadSwitched:                "thread_switched",
}
