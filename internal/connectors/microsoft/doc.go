// Package microsoft provides the Microsoft Graph client pieces shared by
// the Outlook connector: typed Graph errors, request rate limiting and
// account identity resolution.
package microsoft
