package bot

// FallbackReply is returned to the conversation whenever the remote
// call fails; the caller never sees a hard error.
const FallbackReply = "Sorry, I'm not well right now. Lets talk some other time. " +
	"Meanwhile, please ask the admin to check the logs, thank you!"
