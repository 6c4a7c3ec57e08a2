package storage

// Tree layout.
const (
	rootUsers             = "users"
	rootHandles           = "handles"
	rootChatRequests      = "chatRequests"
	rootSentRequests      = "sentRequests"
	rootChats             = "chats"
	rootUserChats         = "userChats"
	rootProfiles          = "profiles"
	rootSavedJobs         = "savedJobs"
	rootPushSubscriptions = "pushSubscriptions"
)

func UserPath(userID string) string { return Join(rootUsers, userID) }

func HandlePath(handle string) string { return Join(rootHandles, handle) }

// AllRequestsPath is the parent of every user's request inbox.
func AllRequestsPath() string { return rootChatRequests }

// RequestsPath is the inbox of chat requests received by recipientID.
func RequestsPath(recipientID string) string { return Join(rootChatRequests, recipientID) }

func RequestPath(recipientID, senderID string) string {
	return Join(rootChatRequests, recipientID, senderID)
}

// SentRequestsPath mirrors the requests sent by senderID.
func SentRequestsPath(senderID string) string { return Join(rootSentRequests, senderID) }

func SentRequestPath(senderID, recipientID string) string {
	return Join(rootSentRequests, senderID, recipientID)
}

func ConversationPath(conversationID string) string { return Join(rootChats, conversationID) }

func MessagesPath(conversationID string) string {
	return Join(rootChats, conversationID, "messages")
}

func TypingRootPath(conversationID string) string {
	return Join(rootChats, conversationID, "typing")
}

func TypingPath(conversationID, userID string) string {
	return Join(rootChats, conversationID, "typing", userID)
}

func UserConversationsPath(userID string) string { return Join(rootUserChats, userID) }

func UserConversationPath(userID, conversationID string) string {
	return Join(rootUserChats, userID, conversationID)
}

func ProfilePath(userID string) string { return Join(rootProfiles, userID) }

func SavedJobsPath(userID string) string { return Join(rootSavedJobs, userID) }

func SavedJobPath(userID, savedJobID string) string {
	return Join(rootSavedJobs, userID, savedJobID)
}

func PushSubscriptionsPath(userID string) string { return Join(rootPushSubscriptions, userID) }

func PushSubscriptionPath(userID, key string) string {
	return Join(rootPushSubscriptions, userID, key)
}
