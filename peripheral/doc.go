/*Package peripheral provides access to the GPIO peripherals of the device

The Gateway owns exactly one digital output (for example a LED) and one input driver
(for example a button). Input drivers translate level changes into key events.

Periph implements the peripherals on top of periph.io. Input drivers wait for edges
detected by the host driver instead of polling the pin.
*/
package peripheral
