// Package protocol defines the wire contract between the guest proxy and
// the host dispatcher.
//
// A request names one of the operations in Ops and carries its arguments
// positionally as a JSON array. The host decodes each argument list with
// the matching Decode function, which either yields a typed request or an
// INVALID_ARGUMENT error; nothing else about a request is trusted.
//
// Argument lists per operation:
//
//	copy            [srcUri, dstUri, {overwrite?}]
//	createDirectory [uri]
//	delete          [uri, {recursive?, useTrash?}]
//	readFile        [uri]                       -> base64 string
//	readDirectory   [uri]                       -> [[name, type], ...]
//	rename          [oldUri, newUri, {overwrite?}]
//	stat            [uri]                       -> {type, ctime, mtime, size}
//	watch           [uri, {recursive?, excludes?}]
//	writeFile       [uri, base64, {create?, overwrite?}]
//
// Option objects may be omitted or null; omitted fields take the host's
// defaults. The host pushes ChangeNotification values to watching guests
// under the notification name NotificationChange.
package protocol
